// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/protocol"
	"github.com/mcpanel/mcpanel/session"
)

const debounce = 500 * time.Millisecond

type fakeRequester struct {
	mu    sync.Mutex
	sent  []protocol.Cadence
	fails error
}

func (r *fakeRequester) RequestCadence(_ context.Context, _ string, cadence protocol.Cadence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails != nil {
		return r.fails
	}
	r.sent = append(r.sent, cadence)
	return nil
}

func (r *fakeRequester) requests() []protocol.Cadence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Cadence(nil), r.sent...)
}

func (r *fakeRequester) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fails = err
}

func newController(t *testing.T) (*Controller, *fakeRequester, *clock.FakeClock) {
	t.Helper()
	requester := &fakeRequester{}
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	controller := New(Config{
		Server:    "survival",
		Requester: requester,
		Clock:     fake,
		Debounce:  debounce,
	})
	t.Cleanup(controller.Close)
	return controller, requester, fake
}

func requireRequests(t *testing.T, requester *fakeRequester, want ...protocol.Cadence) {
	t.Helper()
	got := requester.requests()
	if len(got) != len(want) || (len(want) > 0 && !reflect.DeepEqual(got, want)) {
		t.Fatalf("requests = %v, want %v", got, want)
	}
}

func TestHighVoteAfterDebounce(t *testing.T) {
	controller, requester, fake := newController(t)
	controller.Activate("dashboard", protocol.CadenceHigh)

	fake.Advance(debounce - time.Millisecond)
	requireRequests(t, requester)

	fake.Advance(time.Millisecond)
	requireRequests(t, requester, protocol.CadenceHigh)
	if controller.Applied() != protocol.CadenceHigh {
		t.Errorf("Applied = %s, want high", controller.Applied())
	}
}

func TestAnyHighVoteWins(t *testing.T) {
	controller, requester, fake := newController(t)
	controller.Activate("console", protocol.CadenceLow)
	controller.Activate("dashboard", protocol.CadenceHigh)
	if controller.Desired() != protocol.CadenceHigh {
		t.Fatalf("Desired = %s", controller.Desired())
	}
	fake.Advance(debounce)

	controller.Deactivate("dashboard")
	if controller.Desired() != protocol.CadenceLow {
		t.Fatalf("Desired after deactivate = %s", controller.Desired())
	}
	fake.Advance(debounce)
	requireRequests(t, requester, protocol.CadenceHigh, protocol.CadenceLow)

	if got := controller.Active(); !reflect.DeepEqual(got, []session.Consumer{"console"}) {
		t.Errorf("Active = %v", got)
	}
}

func TestFlappingCollapses(t *testing.T) {
	controller, requester, fake := newController(t)
	for range 5 {
		controller.Activate("dashboard", protocol.CadenceHigh)
		fake.Advance(debounce / 10)
		controller.Deactivate("dashboard")
		fake.Advance(debounce / 10)
	}
	fake.Advance(2 * debounce)
	requireRequests(t, requester)

	for range 3 {
		controller.Deactivate("dashboard")
		controller.Activate("dashboard", protocol.CadenceHigh)
	}
	fake.Advance(2 * debounce)
	requireRequests(t, requester, protocol.CadenceHigh)
}

func TestDeactivateUnknownIsNoop(t *testing.T) {
	controller, requester, fake := newController(t)
	controller.Deactivate("ghost")
	fake.Advance(2 * debounce)
	requireRequests(t, requester)
	if fake.PendingCount() != 0 {
		t.Errorf("%d timers pending", fake.PendingCount())
	}
}

func TestFailedRequestRetriedOnResync(t *testing.T) {
	controller, requester, fake := newController(t)
	requester.failWith(errors.New("not connected"))
	controller.Activate("dashboard", protocol.CadenceHigh)
	fake.Advance(debounce)
	if controller.Applied() != protocol.CadenceLow {
		t.Fatalf("Applied = %s after a failed request", controller.Applied())
	}

	requester.failWith(nil)
	controller.Resync()
	fake.Advance(debounce)
	requireRequests(t, requester, protocol.CadenceHigh)
}

func TestForgetResendsCurrentCadence(t *testing.T) {
	controller, requester, fake := newController(t)
	controller.Activate("console", protocol.CadenceLow)
	fake.Advance(2 * debounce)
	requireRequests(t, requester)

	controller.Forget()
	controller.Resync()
	fake.Advance(debounce)
	requireRequests(t, requester, protocol.CadenceLow)
}

func TestCloseCancelsPending(t *testing.T) {
	controller, requester, fake := newController(t)
	controller.Activate("dashboard", protocol.CadenceHigh)
	controller.Close()
	fake.Advance(2 * debounce)
	requireRequests(t, requester)
}
