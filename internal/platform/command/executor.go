// Package command 把“执行一条外部命令并拿回输出”建模为一个能力接口。
// 需要远程/本地执行的组件只依赖 Executor，不接收裸函数。
package command

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result 是一次命令执行的输出。
type Result struct {
	Output  string
	Success bool
}

// Executor 执行命令。只有“命令无法启动”才返回 error；
// 命令启动后非 0 退出通过 Result.Success=false 表达。
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) (Result, error)
}

// Local 在本机执行命令（exec.CommandContext + CombinedOutput）。
type Local struct{}

func (Local) Execute(ctx context.Context, name string, args ...string) (Result, error) {
	if _, err := exec.LookPath(name); err != nil {
		return Result{}, fmt.Errorf("%s not found: %w", name, err)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Output: string(out), Success: false}, nil
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return Result{}, fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
	}
	return Result{Output: string(out), Success: true}, nil
}

// Static 按 "name arg..." 返回预置输出，用于测试与离线演练。
type Static map[string]Result

func (s Static) Execute(_ context.Context, name string, args ...string) (Result, error) {
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r, ok := s[key]
	if !ok {
		return Result{}, fmt.Errorf("%s not found", name)
	}
	return r, nil
}
