package telemetry_test

import (
	"context"
	"sync"
	"time"
)

// fakeRenderer counts ports.Renderer callbacks. The bridge invokes
// them from span-processor goroutines, so access goes through count
// and captured rather than raw fields.
type fakeRenderer struct {
	mu    sync.Mutex
	calls map[string]int
	logs  [][]byte
}

func (f *fakeRenderer) Start(_ context.Context) error { return nil }
func (f *fakeRenderer) Stop() error                   { return nil }
func (f *fakeRenderer) Wait() error                   { return nil }

func (f *fakeRenderer) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeRenderer) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRenderer) captured() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs
}

func (f *fakeRenderer) OnPlanEmit(_ []string, _ map[string][]string, _ []string) {
	f.record("plan")
}

func (f *fakeRenderer) OnStageStart(_, _, _ string, _ time.Time) {
	f.record("start")
}

func (f *fakeRenderer) OnStageLog(_ string, data []byte) {
	f.mu.Lock()
	f.logs = append(f.logs, data)
	f.mu.Unlock()
	f.record("log")
}

func (f *fakeRenderer) OnStageComplete(_ string, _ time.Time, _ error) {
	f.record("complete")
}
