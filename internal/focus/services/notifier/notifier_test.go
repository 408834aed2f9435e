package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/infra/metrics"
)

type fakeContext struct {
	id    string
	err   error
	block bool
	panic bool
	delay time.Duration

	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (f *fakeContext) ID() string { return f.id }

func (f *fakeContext) Deliver(ctx context.Context, ev domain.ChangeEvent) error {
	if f.panic {
		panic("torn down")
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeContext) received() []domain.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChangeEvent(nil), f.events...)
}

type staticEnum []domain.Context

func (s staticEnum) Contexts() []domain.Context { return s }

func TestNotify_FailureIsolation(t *testing.T) {
	t1 := &fakeContext{id: "tab-1"}
	t2 := &fakeContext{id: "tab-2", err: errors.New("no receiving end")}
	t3 := &fakeContext{id: "tab-3"}

	var got Report
	n := New(Options{OnReport: func(r Report) { got = r }, Metrics: metrics.New(prometheus.NewRegistry())})
	ev := domain.ChangeEvent{Active: true, BlockedHosts: []string{"example.com", "foo.org"}}

	n.Notify(context.Background(), []domain.Context{t1, t2, t3}, ev)

	assert.Equal(t, []domain.ChangeEvent{ev}, t1.received())
	assert.Empty(t, t2.received())
	assert.Equal(t, []domain.ChangeEvent{ev}, t3.received())

	require.Len(t, got.Results, 3)
	assert.Equal(t, 2, got.Delivered())
	assert.Equal(t, 1, got.Failed())
	assert.Equal(t, "tab-2", got.Results[1].Target)
	assert.Equal(t, domain.DeliveryFailed, got.Results[1].Status)
	assert.Error(t, got.Results[1].Err)
}

func TestNotify_EarlyFailureDoesNotCancelSlowTarget(t *testing.T) {
	failing := &fakeContext{id: "tab-1", err: errors.New("port closed")}
	slow := &fakeContext{id: "tab-2", delay: 30 * time.Millisecond}

	var got Report
	n := New(Options{Timeout: time.Second, OnReport: func(r Report) { got = r }})
	ev := domain.ChangeEvent{Active: true, BlockedHosts: []string{"example.com"}}

	n.Notify(context.Background(), []domain.Context{failing, slow}, ev)

	require.Len(t, got.Results, 2)
	assert.Equal(t, domain.DeliveryFailed, got.Results[0].Status)
	assert.Equal(t, domain.DeliveryDelivered, got.Results[1].Status)
	assert.Equal(t, []domain.ChangeEvent{ev}, slow.received())
}

func TestNotify_SlowTargetTimesOut(t *testing.T) {
	slow := &fakeContext{id: "slow", block: true}
	fast := &fakeContext{id: "fast"}
	var got Report
	n := New(Options{Timeout: 20 * time.Millisecond, OnReport: func(r Report) { got = r }})

	start := time.Now()
	n.Notify(context.Background(), []domain.Context{slow, fast}, domain.ChangeEvent{})
	assert.Less(t, time.Since(start), time.Second)

	assert.Len(t, fast.received(), 1)
	assert.ErrorIs(t, got.Results[0].Err, context.DeadlineExceeded)
}

func TestNotify_PanickingTargetIsContained(t *testing.T) {
	bad := &fakeContext{id: "bad", panic: true}
	good := &fakeContext{id: "good"}
	var got Report
	n := New(Options{OnReport: func(r Report) { got = r }})

	n.Notify(context.Background(), []domain.Context{bad, nil, good}, domain.ChangeEvent{Active: false})

	assert.Len(t, good.received(), 1)
	assert.Equal(t, 1, got.Delivered())
	assert.Equal(t, 2, got.Failed())
}

func TestNotify_NoTargets(t *testing.T) {
	called := false
	n := New(Options{OnReport: func(r Report) { called = true; assert.Empty(t, r.Results) }})
	n.Notify(context.Background(), nil, domain.ChangeEvent{})
	assert.True(t, called)
}

func TestBroadcast_UsesEnumerator(t *testing.T) {
	a := &fakeContext{id: "a"}
	b := &fakeContext{id: "b"}
	n := New(Options{Enumerator: staticEnum{a, b}})
	n.Broadcast(context.Background(), domain.ChangeEvent{Active: true, BlockedHosts: []string{"x.com"}})
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
}

func TestBroadcast_NilEnumerator(t *testing.T) {
	n := New(Options{})
	n.Broadcast(context.Background(), domain.ChangeEvent{})
}
