package svcgroup

import (
	"context"
	"sync"
)

// recordingDispatcher records every request and fails members listed in fail
type recordingDispatcher struct {
	mu       sync.Mutex
	requests []Request
	fail     map[string]error

	// block, when set, is waited on inside Dispatch
	block chan struct{}
	// entered receives once per Dispatch call when non-nil
	entered chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{fail: make(map[string]error)}
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, req Request) error {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.fail[req.Member]
}

func (r *recordingDispatcher) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.requests))
	copy(out, r.requests)
	return out
}

func (r *recordingDispatcher) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}

// failingStore wraps a MemoryStateStore and fails Save on demand
type failingStore struct {
	MemoryStateStore
	saveErr error
}

func (s *failingStore) Save(state State) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStateStore.Save(state)
}

var grrMembers = []string{"ui", "http_server", "worker", "worker2"}
