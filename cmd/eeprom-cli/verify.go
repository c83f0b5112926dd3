package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eeprom-spoofer/internal/services/auditverify"
	"eeprom-spoofer/internal/services/backupexport"
)

// runVerify 是 verify 子命令路由：
// - verify export-zip：校验备份导出包内的 hashes.sha256 与审计链
// - verify audits：复核数据库中的审计哈希链
func runVerify(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printVerifyUsage()
		return nil
	}

	switch args[0] {
	case "export-zip":
		return runVerifyExportZip(ctx, args[1:])
	case "audits":
		return runVerifyAudits(ctx, args[1:])
	default:
		printVerifyUsage()
		return fmt.Errorf("unknown verify command: %s", args[0])
	}
}

func printVerifyUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eeprom-cli verify export-zip --zip PATH_TO_ZIP")
	fmt.Println("  eeprom-cli verify audits [--db data/eeprom.db] [--limit 0]")
}

func runVerifyExportZip(_ context.Context, args []string) error {
	fs, _, err := newFlagSet("verify export-zip")
	if err != nil {
		return err
	}
	zipPath := fs.String("zip", "", "backup export zip path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*zipPath) == "" {
		return errors.New("--zip is required")
	}

	res, err := backupexport.Verify(*zipPath)
	if err != nil {
		return err
	}
	fmt.Println("export zip verify completed")
	fmt.Printf("files_total=%d ok=%d failed=%d\n", res.Total, res.OK, res.Failed)
	for _, it := range res.Items {
		if it.Status == "ok" {
			continue
		}
		if it.Error != "" {
			fmt.Printf("FAIL path=%s status=%s expected=%s actual=%s error=%s\n", it.Path, it.Status, it.Expected, it.Actual, it.Error)
		} else {
			fmt.Printf("FAIL path=%s status=%s expected=%s actual=%s\n", it.Path, it.Status, it.Expected, it.Actual)
		}
	}
	if res.Audit != nil {
		fmt.Printf("audit_chain_total=%d failed=%d ok=%t\n", res.Audit.Total, res.Audit.Failed, res.Audit.OK)
	}
	if !res.Passed() {
		return fmt.Errorf("export zip verify failed")
	}
	return nil
}

// runVerifyAudits 复核整条审计链；链是全局的，不按会话过滤。
func runVerifyAudits(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("verify audits")
	if err != nil {
		return err
	}
	limit := fs.Int("limit", 0, "max audit logs to verify (0 = whole chain)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	logs, err := s.store.ListAuditLogs(ctx, "", *limit)
	if err != nil {
		return err
	}
	res := auditverify.VerifyAuditLogs(logs)
	fmt.Println("audit chain verify completed")
	fmt.Printf("total=%d failed=%d prev_hash_failed=%d chain_hash_failed=%d last_hash=%s\n", res.Total, res.Failed, res.PrevHashFailed, res.ChainHashFailed, orDash(res.LastChainHash))
	fmt.Printf("write_sessions=%d completed=%d rolled_back=%d rollback_failed=%d interrupted=%d\n",
		res.Sessions.Total, res.Sessions.Completed, res.Sessions.RolledBack, len(res.Sessions.RollbackFailed), len(res.Sessions.Interrupted),
	)
	for _, id := range res.Sessions.RollbackFailed {
		fmt.Printf("WARN session=%s rollback failed; device identity may be torn\n", id)
	}
	for _, id := range res.Sessions.Interrupted {
		fmt.Printf("WARN session=%s has no recorded outcome\n", id)
	}
	if !res.OK {
		for _, b := range res.Breaks {
			fmt.Printf("FAIL index=%d event_id=%s action=%s problems=%v expected_prev=%s actual_prev=%s expected_hash=%s actual_hash=%s\n",
				b.Index, b.EventID, b.Action, b.Problems, orDash(b.ExpectedPrev), orDash(b.ActualPrev), orDash(b.ExpectedHash), orDash(b.ActualHash),
			)
		}
		return fmt.Errorf("audit chain verify failed")
	}
	return nil
}
