// Package spoofer 执行分阶段的身份改写：校验 → 备份 → 准备 → 逐字节写入 →
// 校验和更新 → 回读确认；确认失败自动回滚。
//
// 备份完成后不再响应取消：中途打断写入比跑完再回滚更危险。
package spoofer

import (
	"context"
	"errors"
	"fmt"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/id"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/services/analyzer"
)

const op = "spoof"

// Writer 持有调用方传入的设备会话；同一会话上的调用必须串行。
type Writer struct {
	t       transport.Transport
	backups SnapshotSaver
	base    Config
}

// New 创建 Writer。opts 作为默认配置，可被 PerformSpoof 的 opts 覆盖。
func New(t transport.Transport, backups SnapshotSaver, opts ...Option) *Writer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Writer{t: t, backups: backups, base: cfg}
}

// run 是一次 PerformSpoof 的执行上下文。
type run struct {
	w         *Writer
	cfg       Config
	sessionID string
	device    string
	target    model.Identity
}

func (r *run) progress(step int, state State, msg string) {
	r.cfg.Logger.Debug("spoof state", "session", r.sessionID, "state", string(state), "msg", msg)
	if r.cfg.Progress == nil {
		return
	}
	r.cfg.Progress(Progress{
		Step:       step,
		TotalSteps: TotalSteps,
		State:      state,
		Message:    msg,
		Percentage: float64(step) / float64(TotalSteps) * 100,
	})
}

func (r *run) audit(ctx context.Context, action, status string, detail any) {
	if r.cfg.Audit == nil {
		return
	}
	if err := r.cfg.Audit.AppendAudit(ctx, r.sessionID, r.device, "spoof", action, status, r.cfg.Actor, r.cfg.Source, detail); err != nil {
		r.cfg.Logger.Error("append audit failed", "session", r.sessionID, "action", action, "err", err)
	}
}

// PerformSpoof 把 analysis 所定位的身份窗口改写为 target。
//
// 成功返回 Success=true, VerificationPassed=true；dry run 只返回 4 个计划变更，不发出任何写调用。
// 回读不一致时自动回滚并返回 Verification 错误；回滚本身失败返回 RollbackFailure（最高严重级别）。
func (w *Writer) PerformSpoof(ctx context.Context, analysis *model.AnalysisResult, target model.Identity, opts ...Option) (*model.SpoofOutcome, error) {
	cfg := w.base
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.Logger = logging.OrNop(cfg.Logger)

	r := &run{w: w, cfg: cfg, sessionID: id.Session(), target: target}
	out := &model.SpoofOutcome{SessionID: r.sessionID, DryRun: cfg.DryRun}
	if analysis != nil {
		r.device = analysis.Device.String()
	}

	// 1. validating
	r.progress(1, StateValidating, "checking compatibility")
	if err := w.validate(ctx, analysis, target); err != nil {
		r.progress(1, StateFailed, err.Error())
		cfg.Metrics.SpoofOutcome("rejected")
		r.audit(ctx, "validate", "rejected", map[string]any{"error": err.Error(), "target": target.String()})
		return out, err
	}
	r.audit(ctx, "spoof_start", "started", map[string]any{"target": target.String(), "dry_run": cfg.DryRun})

	// 2. backing_up
	r.progress(2, StateBackingUp, "capturing pre-write image")
	snapshot, backup, err := w.backup(ctx, analysis)
	if err != nil {
		r.progress(2, StateFailed, err.Error())
		cfg.Metrics.SpoofOutcome("backup_failed")
		r.audit(ctx, "backup", "failed", map[string]any{"error": err.Error()})
		return out, err
	}
	out.BackupID = backup.ID
	r.audit(ctx, "backup", "success", map[string]any{"backup_id": backup.ID})

	// 备份已落盘，之后不再响应取消。
	ctx = context.WithoutCancel(ctx)

	// 3. preparing
	r.progress(3, StatePreparing, "computing byte changes")
	preview, err := analyzer.Preview(analysis, target)
	if err != nil {
		r.progress(3, StateFailed, err.Error())
		cfg.Metrics.SpoofOutcome("rejected")
		return out, fault.Incompatible(op, err.Error())
	}
	updated := snapshot.Clone()
	for _, c := range preview.Changes {
		updated.Bytes[c.Offset] = c.New
	}
	var checksum []model.ByteChange
	if off := analysis.ChecksumOffset; off != nil {
		sum := Checksum16(updated.Bytes, *off)
		checksum = []model.ByteChange{
			{Offset: *off, Old: snapshot.Bytes[*off], New: byte(sum)},
			{Offset: *off + 1, Old: snapshot.Bytes[*off+1], New: byte(sum >> 8)},
		}
	}

	if cfg.DryRun {
		out.Success = true
		out.NewIdentity = target
		out.Changes = append([]model.ByteChange(nil), preview.Changes[:]...)
		r.progress(TotalSteps, StateComplete, "dry run: no bytes written")
		cfg.Metrics.SpoofOutcome("dry_run")
		r.audit(ctx, "spoof_finish", "dry_run", map[string]any{"changes": out.Changes})
		return out, nil
	}

	// 4. writing_identity：逐字节，一次一个在途操作。
	r.progress(4, StateWritingIdentity, fmt.Sprintf("writing %s -> %s", preview.Before, preview.After))
	var written []model.ByteChange
	for _, c := range preview.Changes {
		written = append(written, c)
		if _, err := w.t.WriteByteAt(ctx, c.Offset, c.New, true); err != nil {
			cause := fmt.Errorf("write 0x%03X: %w", c.Offset, err)
			return r.fail(ctx, out, snapshot, written, nil, cause)
		}
	}

	// 5. updating_checksum
	if len(checksum) == 0 {
		r.progress(5, StateUpdatingChecksum, "no checksum field; skipped")
	} else {
		r.progress(5, StateUpdatingChecksum, fmt.Sprintf("writing checksum at 0x%03X", checksum[0].Offset))
		for _, c := range checksum {
			written = append(written, c)
			if _, err := w.t.WriteByteAt(ctx, c.Offset, c.New, true); err != nil {
				cause := fmt.Errorf("write checksum 0x%03X: %w", c.Offset, err)
				return r.fail(ctx, out, snapshot, written, nil, cause)
			}
		}
	}

	// 6. verifying
	r.progress(6, StateVerifying, "reading back written bytes")
	mismatches, err := readBack(ctx, w.t, written)
	if err != nil || len(mismatches) > 0 {
		return r.fail(ctx, out, snapshot, written, mismatches, err)
	}

	out.Success = true
	out.VerificationPassed = true
	out.NewIdentity = target
	r.progress(7, StateComplete, fmt.Sprintf("identity is now %s; replug the adapter to re-enumerate", target))
	cfg.Metrics.SpoofOutcome("success")
	cfg.Logger.Info("spoof complete", "session", r.sessionID, "from", preview.Before, "to", preview.After, "backup", backup.ID)
	r.audit(ctx, "spoof_finish", "success", map[string]any{"from": preview.Before, "to": preview.After})
	return out, nil
}

// validate 重新确认兼容性；任何失败都发生在触碰设备之前。
func (w *Writer) validate(ctx context.Context, analysis *model.AnalysisResult, target model.Identity) error {
	if w.t == nil || !w.t.IsOpen() {
		return fault.Connection(op, "no device open")
	}
	if analysis == nil {
		return fault.Incompatible(op, "no analysis result")
	}
	if !analysis.Verdict.Compatible {
		return fault.Incompatible(op, analysis.Verdict.Reason)
	}
	if analysis.HasLockedIdentity {
		return fault.Incompatible(op, "identity is locked in eFuse")
	}
	if analysis.Location.Confidence == model.ConfidenceLow {
		return fault.Incompatible(op, "non-standard memory map")
	}
	if target.IsZero() {
		return fault.Incompatible(op, "target identity is empty")
	}
	if _, ok := analysis.Image.Window(analysis.Location.Offsets); !ok {
		return fault.Incompatible(op, "identity offsets outside memory image")
	}
	if off := analysis.ChecksumOffset; off != nil && (*off < 0 || *off+1 >= len(analysis.Image.Bytes)) {
		return fault.Incompatible(op, fmt.Sprintf("checksum offset 0x%03X outside memory image", *off))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, err := w.t.CurrentIdentity(ctx)
	if err != nil {
		return &fault.Error{Kind: fault.KindConnection, Op: op, Message: "read device identity", Err: err}
	}
	if cur != analysis.Device {
		return fault.Incompatible(op, fmt.Sprintf("device changed since analysis (%s, analyzed %s)", cur, analysis.Device))
	}
	return nil
}

// backup 重新读取整片镜像并经 SnapshotSaver 落盘。
func (w *Writer) backup(ctx context.Context, analysis *model.AnalysisResult) (model.MemoryImage, *model.Backup, error) {
	if w.backups == nil {
		return model.MemoryImage{}, nil, fault.Storage(op, errors.New("no backup store configured"))
	}
	raw, err := transport.ReadRaw(ctx, w.t, 0, len(analysis.Image.Bytes))
	if err != nil {
		return model.MemoryImage{}, nil, fmt.Errorf("%s: capture image: %w", op, err)
	}
	snapshot := model.MemoryImage{Bytes: raw, Size: len(raw)}
	now, _ := snapshot.Window(analysis.Location.Offsets)
	then, _ := analysis.Image.Window(analysis.Location.Offsets)
	if now != then {
		return model.MemoryImage{}, nil, fault.Incompatible(op, "identity bytes changed since analysis; analyze again")
	}
	if err := ctx.Err(); err != nil {
		return model.MemoryImage{}, nil, err
	}

	dev := model.DeviceInfo{Identity: analysis.Device, Chipset: analysis.ChipsetVersion}
	if analysis.Spec != nil {
		dev.Name = analysis.Spec.Name
	}
	b, err := w.backups.SaveSnapshot(ctx, dev, snapshot)
	if err != nil {
		if fault.IsKind(err, fault.KindStorage) {
			return model.MemoryImage{}, nil, err
		}
		return model.MemoryImage{}, nil, fault.Storage(op, err)
	}
	return snapshot, b, nil
}

// readBack 逐字节回读并与期望值比较。
func readBack(ctx context.Context, t transport.Transport, changes []model.ByteChange) ([]model.ByteMismatch, error) {
	var mismatches []model.ByteMismatch
	for _, c := range changes {
		got, err := transport.ReadByte(ctx, t, c.Offset)
		if err != nil {
			return mismatches, fmt.Errorf("read back 0x%03X: %w", c.Offset, err)
		}
		if got != c.New {
			mismatches = append(mismatches, model.ByteMismatch{Offset: c.Offset, Expected: c.New, Actual: got})
		}
	}
	return mismatches, nil
}

// fail 处理写入/回读失败：用快照中的原值回滚每个已写偏移（每个偏移恰好一次），再回读确认。
func (r *run) fail(ctx context.Context, out *model.SpoofOutcome, snapshot model.MemoryImage, written []model.ByteChange, mismatches []model.ByteMismatch, cause error) (*model.SpoofOutcome, error) {
	cfg := r.cfg
	verr := fault.Verification(op, mismatches, cause)
	if len(mismatches) == 0 && cause != nil {
		verr = &fault.Error{Kind: fault.KindVerification, Op: op, Message: "write sequence did not complete", Err: cause}
	}
	cfg.Logger.Error("spoof verification failed", "session", r.sessionID, "err", verr)
	r.audit(ctx, "verify", "verification_failed", map[string]any{"mismatches": mismatches, "error": errString(cause)})

	r.progress(6, StateRollingBack, fmt.Sprintf("restoring %d byte(s) from backup", len(written)))
	restore := make([]model.ByteChange, 0, len(written))
	var werr error
	for _, c := range written {
		orig := snapshot.Bytes[c.Offset]
		restore = append(restore, model.ByteChange{Offset: c.Offset, Old: c.New, New: orig})
		if _, err := r.w.t.WriteByteAt(ctx, c.Offset, orig, true); err != nil && werr == nil {
			werr = fmt.Errorf("rollback write 0x%03X: %w", c.Offset, err)
		}
	}
	// 回读结果决定成败：写调用报错但原值仍在（例如该字节从未被改动）不算回滚失败。
	left, rerr := readBack(ctx, r.w.t, restore)
	if rerr != nil || len(left) > 0 {
		rf := fault.RollbackFailure(op, left, errors.Join(rerr, werr, verr))
		r.progress(6, StateFailed, rf.Error())
		cfg.Metrics.Rollback("failed")
		cfg.Metrics.SpoofOutcome("rollback_failed")
		cfg.Logger.Error("rollback failed", "session", r.sessionID, "severity", string(rf.Severity()), "err", rf)
		r.audit(ctx, "rollback", "failed", map[string]any{"remaining": left, "error": errString(errors.Join(rerr, werr))})
		return out, rf
	}
	if werr != nil {
		cfg.Logger.Info("rollback write error with original bytes in place", "session", r.sessionID, "err", werr)
	}

	out.RolledBack = true
	r.progress(6, StateFailed, "verification failed; original bytes restored")
	cfg.Metrics.Rollback("success")
	cfg.Metrics.SpoofOutcome("rolled_back")
	r.audit(ctx, "rollback", "success", map[string]any{"restored": restore, "write_error": errString(werr)})
	return out, verr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
