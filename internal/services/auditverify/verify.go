// Package auditverify 复核 audit_logs 哈希链，并汇总链上记录的硬件写会话。
package auditverify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/domain/model"
)

// Problem 是单条记录的链断裂类型。
type Problem string

const (
	ProblemPrevHash  Problem = "prev_hash"
	ProblemChainHash Problem = "chain_hash"
)

// Break 描述链上一处断裂。Expected/Actual 只在对应问题出现时填写。
type Break struct {
	Index     int       `json:"index"`
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id,omitempty"`
	Action    string    `json:"action"`
	Problems  []Problem `json:"problems"`

	ExpectedPrev string `json:"expected_prev,omitempty"`
	ActualPrev   string `json:"actual_prev,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`
}

// Has 报告该断裂是否包含 p。
func (b Break) Has(p Problem) bool {
	for _, x := range b.Problems {
		if x == p {
			return true
		}
	}
	return false
}

// WriteSessions 统计链上的改写/恢复会话。Interrupted 是有开始、没有结局的会话，
// 通常意味着写入途中进程退出或设备被拔出。
type WriteSessions struct {
	Total          int      `json:"total"`
	Completed      int      `json:"completed"`
	RolledBack     int      `json:"rolled_back"`
	RollbackFailed []string `json:"rollback_failed,omitempty"`
	Interrupted    []string `json:"interrupted,omitempty"`
}

// Result 是一次整链复核的结果。OK 只看哈希链。
type Result struct {
	OK              bool          `json:"ok"`
	Total           int           `json:"total"`
	Failed          int           `json:"failed"`
	PrevHashFailed  int           `json:"prev_hash_failed"`
	ChainHashFailed int           `json:"chain_hash_failed"`
	LastChainHash   string        `json:"last_chain_hash,omitempty"`
	Breaks          []Break       `json:"breaks,omitempty"`
	Sessions        WriteSessions `json:"sessions"`
}

// LogLister 是 sqlite Store 的只读子集。
type LogLister interface {
	ListAuditLogs(ctx context.Context, sessionID string, limit int) ([]model.AuditLog, error)
}

// VerifyStore 取出整条链并复核。
func VerifyStore(ctx context.Context, store LogLister) (Result, error) {
	logs, err := store.ListAuditLogs(ctx, "", 0)
	if err != nil {
		return Result{}, err
	}
	return VerifyAuditLogs(logs), nil
}

// VerifyAuditLogs 按写入顺序复核 logs：prev 指针连续、chain_hash 可重算。
// 断裂之后以库中存量 hash 继续推进，一次报告全部断点。
func VerifyAuditLogs(logs []model.AuditLog) Result {
	res := Result{OK: true, Total: len(logs)}
	sessions := newSessionTracker()

	prev := ""
	for i, it := range logs {
		sessions.observe(it)

		actualPrev := strings.TrimSpace(it.ChainPrevHash)
		actualHash := strings.TrimSpace(it.ChainHash)
		wantHash := sqliteadapter.AuditChainHash(prev, it.SessionID, it.DeviceKey, it.EventType, it.Action, it.Status, it.OccurredAt, canonicalDetail(it.DetailJSON))

		br := Break{Index: i, EventID: it.EventID, SessionID: it.SessionID, Action: it.Action}
		if actualPrev != prev {
			br.Problems = append(br.Problems, ProblemPrevHash)
			br.ExpectedPrev, br.ActualPrev = prev, actualPrev
			res.PrevHashFailed++
		}
		if actualHash != wantHash {
			br.Problems = append(br.Problems, ProblemChainHash)
			br.ExpectedHash, br.ActualHash = wantHash, actualHash
			res.ChainHashFailed++
		}
		if len(br.Problems) > 0 {
			res.OK = false
			res.Failed++
			res.Breaks = append(res.Breaks, br)
		}

		prev = actualHash
	}
	res.LastChainHash = prev
	res.Sessions = sessions.summary()
	return res
}

// canonicalDetail 把 detail 还原成入库时的紧凑 JSON；导出包里的 manifest 是缩进格式。
func canonicalDetail(in []byte) string {
	if len(bytes.TrimSpace(in)) == 0 {
		return "{}"
	}
	var b bytes.Buffer
	if err := json.Compact(&b, in); err != nil {
		return strings.TrimSpace(string(in))
	}
	return b.String()
}

type sessionState int

const (
	stateOpen sessionState = iota
	stateCompleted
	stateRolledBack
	stateRollbackFailed
)

type sessionTracker struct {
	order  []string
	states map[string]sessionState
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{states: map[string]sessionState{}}
}

// observe 只跟踪带会话号的 spoof / restore 事件。
func (t *sessionTracker) observe(l model.AuditLog) {
	if l.SessionID == "" || (l.EventType != "spoof" && l.EventType != "restore") {
		return
	}
	if _, seen := t.states[l.SessionID]; !seen {
		t.order = append(t.order, l.SessionID)
		t.states[l.SessionID] = stateOpen
	}
	switch {
	case l.Action == "spoof_finish", l.Action == "validate":
		t.states[l.SessionID] = stateCompleted
	case l.Action == "backup" && l.Status == "failed":
		t.states[l.SessionID] = stateCompleted
	case l.Action == "rollback" && l.Status == "success":
		t.states[l.SessionID] = stateRolledBack
	case l.Action == "rollback":
		t.states[l.SessionID] = stateRollbackFailed
	case l.Action == "restore_identity" && l.Status != "started":
		t.states[l.SessionID] = stateCompleted
	}
}

func (t *sessionTracker) summary() WriteSessions {
	out := WriteSessions{Total: len(t.order)}
	for _, id := range t.order {
		switch t.states[id] {
		case stateCompleted:
			out.Completed++
		case stateRolledBack:
			out.RolledBack++
		case stateRollbackFailed:
			out.RollbackFailed = append(out.RollbackFailed, id)
		default:
			out.Interrupted = append(out.Interrupted, id)
		}
	}
	return out
}
