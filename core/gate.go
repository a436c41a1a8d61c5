package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitGate 全局请求间隔限制 (burst 1)
type RateLimitGate struct {
	limiter *rate.Limiter
	wait    bool
}

// NewRateLimitGate returns a disabled gate when interval is 0.
func NewRateLimitGate(interval time.Duration, wait bool) *RateLimitGate {
	if interval <= 0 {
		return &RateLimitGate{}
	}
	return &RateLimitGate{limiter: rate.NewLimiter(rate.Every(interval), 1), wait: wait}
}

func (g *RateLimitGate) Enabled() bool { return g != nil && g.limiter != nil }

// Allow 在等待模式下阻塞直到允许，否则立即返回 *RateLimitedError
func (g *RateLimitGate) Allow(ctx context.Context) error {
	if !g.Enabled() {
		return nil
	}
	if g.wait {
		return g.limiter.Wait(ctx)
	}
	r := g.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return &RateLimitedError{RetryAfter: delay}
	}
	return nil
}

// Approver 人工审批请求
type Approver interface {
	Await(ctx context.Context, summary string) error
}

// AutoApprove 自动通过所有请求
type AutoApprove struct{}

func (AutoApprove) Await(context.Context, string) error { return nil }

// PromptApprover 在终端上逐个询问是否接受请求
type PromptApprover struct {
	mutex sync.Mutex
	out   io.Writer

	once  sync.Once
	in    *bufio.Reader
	lines chan string
}

func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan string),
	}
}

// readLines 单独的读取 goroutine，避免取消后遗留多个读取者
func (p *PromptApprover) readLines() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if line != "" || err == nil {
			p.lines <- strings.TrimSpace(line)
		}
		if err != nil {
			return
		}
	}
}

func (p *PromptApprover) Await(ctx context.Context, summary string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.once.Do(func() { go p.readLines() })

	if summary != "" {
		fmt.Fprintln(p.out, summary)
	}
	fmt.Fprint(p.out, "Accept incoming request? [y/N] ")

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return ctx.Err()
	case answer, ok := <-p.lines:
		if !ok {
			return fmt.Errorf("%w: no input", ErrRequestRejected)
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return nil
		}
		return ErrRequestRejected
	}
}
