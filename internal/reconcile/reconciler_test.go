package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"settler/internal/model"
)

type fakeChain struct {
	mu     sync.Mutex
	height uint64
	err    error
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.height, nil
}

func (f *fakeChain) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

// recordingDispatcher records dispatched keys and signals done on
// every call, since Tick now fires Dispatch on its own goroutine per
// key (a stuck settleBet must not block the tick loop) — tests must
// wait for that signal instead of asserting immediately after Tick
// returns.
type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []model.Key
	done       chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan struct{}, 16)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, key model.Key) {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, key)
	d.mu.Unlock()
	d.done <- struct{}{}
}

func (d *recordingDispatcher) keys() []model.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Key, len(d.dispatched))
	copy(out, d.dispatched)
	return out
}

func (d *recordingDispatcher) waitForDispatches(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-d.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for dispatch %d/%d", i+1, n)
		}
	}
}

func TestUpsertReplacesPriorEntryForSameKey(t *testing.T) {
	chain := &fakeChain{height: 100}
	r := New(chain, zap.NewNop())

	key := model.Key{RoomID: 1, Player: "0xaaa"}
	r.Upsert(model.PendingBet{Key: key, RevealBlock: 110, TxHash: "0x1"})
	r.Upsert(model.PendingBet{Key: key, RevealBlock: 200, TxHash: "0x2"})

	require.Equal(t, 1, r.Count())
	pb, ok := r.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(200), pb.RevealBlock)
	assert.Equal(t, "0x2", pb.TxHash)
}

func TestTickDispatchesOnlyDueKeys(t *testing.T) {
	chain := &fakeChain{height: 100}
	r := New(chain, zap.NewNop())
	dispatcher := newRecordingDispatcher()
	r.SetDispatcher(dispatcher)

	due := model.Key{RoomID: 1, Player: "0xdue"}
	notDue := model.Key{RoomID: 2, Player: "0xwaiting"}

	r.Upsert(model.PendingBet{Key: due, RevealBlock: 100})
	r.Upsert(model.PendingBet{Key: notDue, RevealBlock: 500})

	r.Tick(context.Background())
	dispatcher.waitForDispatches(t, 1)

	got := dispatcher.keys()
	require.Len(t, got, 1)
	assert.Equal(t, due, got[0])
}

func TestTickToleratesConcurrentRemoval(t *testing.T) {
	chain := &fakeChain{height: 100}
	r := New(chain, zap.NewNop())

	removed := make(chan struct{}, 1)
	removingDispatcher := dispatchFunc(func(_ context.Context, key model.Key) {
		r.Remove(key)
		removed <- struct{}{}
	})
	r.SetDispatcher(removingDispatcher)

	key := model.Key{RoomID: 1, Player: "0xaaa"}
	r.Upsert(model.PendingBet{Key: key, RevealBlock: 50})

	assert.NotPanics(t, func() { r.Tick(context.Background()) })

	select {
	case <-removed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched removal")
	}
	assert.Equal(t, 0, r.Count())
}

func TestTickSkipsDispatchOnBlockNumberError(t *testing.T) {
	chain := &fakeChain{err: assertError("rpc down")}
	r := New(chain, zap.NewNop())
	dispatcher := newRecordingDispatcher()
	r.SetDispatcher(dispatcher)

	key := model.Key{RoomID: 1, Player: "0xaaa"}
	r.Upsert(model.PendingBet{Key: key, RevealBlock: 0})

	r.Tick(context.Background())
	assert.Empty(t, dispatcher.keys())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	chain := &fakeChain{height: 1}
	r := New(chain, zap.NewNop())
	r.SetDispatcher(newRecordingDispatcher())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

type dispatchFunc func(ctx context.Context, key model.Key)

func (f dispatchFunc) Dispatch(ctx context.Context, key model.Key) { f(ctx, key) }

type assertError string

func (e assertError) Error() string { return string(e) }
