package processing

import (
	"context"
	"sync"
)

type fakeDevices struct {
	devices []Device
	err     error
	domains []string
}

func (f *fakeDevices) Snapshot(_ context.Context, domains ...string) ([]Device, error) {
	f.domains = domains
	return f.devices, f.err
}

type fakeCompleter struct {
	reply string
	err   error
	calls []Completion
}

func (f *fakeCompleter) Complete(_ context.Context, c Completion) (string, error) {
	f.calls = append(f.calls, c)
	return f.reply, f.err
}

type invocation struct {
	Category string
	Action   string
	Data     map[string]any
}

type recordingInvoker struct {
	mu     sync.Mutex
	calls  []invocation
	failOn string
	err    error
}

func (r *recordingInvoker) Invoke(_ context.Context, category, action string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && data["entity_id"] == r.failOn {
		return r.err
	}
	r.calls = append(r.calls, invocation{Category: category, Action: action, Data: data})
	return nil
}
