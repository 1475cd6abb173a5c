package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/srcrecover/internal/process"
)

// InvokeFunc scripts the behavior of a FakeInvoker.
type InvokeFunc func(ctx context.Context, req process.Request) (process.Result, error)

// FakeInvoker records invocations and answers them with a scripted
// function instead of starting processes.
//
// Thread-safety: safe for concurrent use; the pipeline invokes from
// several workers.
type FakeInvoker struct {
	mu    sync.Mutex
	fn    InvokeFunc
	calls []process.Request
}

// NewFakeInvoker creates an invoker answering with fn.
func NewFakeInvoker(fn InvokeFunc) *FakeInvoker {
	return &FakeInvoker{fn: fn}
}

// Invoke implements process.Invoker.
func (f *FakeInvoker) Invoke(ctx context.Context, req process.Request) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

// Calls returns a copy of the recorded requests.
func (f *FakeInvoker) Calls() []process.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Request(nil), f.calls...)
}

// ArgAfter returns the argument following flag, or "".
func ArgAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// WriteSources simulates a decompiler writing source files into dir.
func WriteSources(dir string, rels ...string) error {
	for _, rel := range rels {
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte("// recovered "+rel+"\n"), 0o644); err != nil {
			return err
		}
	}
	return nil
}
