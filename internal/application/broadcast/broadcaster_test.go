package broadcast

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jbctechsolutions/tempo/internal/domain/status"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	snaps []status.Snapshot
}

func (r *recorder) record(s status.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []status.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]status.Snapshot(nil), r.snaps...)
}

func (r *recorder) last() status.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func TestSubscribe_DeliversCurrentSnapshotImmediately(t *testing.T) {
	b := New(status.Snapshot{IsOnline: true, PendingChanges: 2}, logging.Discard())
	defer b.Close()

	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.record)
	defer unsubscribe()

	got := rec.all()
	require.Len(t, got, 1, "initial snapshot must be delivered before Subscribe returns")
	assert.True(t, got[0].IsOnline)
	assert.Equal(t, 2, got[0].PendingChanges)
}

func TestUpdate_NotifiesOnChangeOnly(t *testing.T) {
	b := New(status.Snapshot{}, logging.Discard())
	defer b.Close()

	rec := &recorder{}
	defer b.Subscribe(rec.record)()

	assert.True(t, b.Update(func(s *status.Snapshot) { s.IsOnline = true }))
	assert.False(t, b.Update(func(s *status.Snapshot) { s.IsOnline = true }), "identical snapshot must not publish")

	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.last().IsOnline)
	assert.True(t, b.Current().IsOnline)
}

func TestUpdate_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New(status.Snapshot{}, logging.Discard())
	defer b.Close()

	release := make(chan struct{})
	var calls atomic.Int32
	defer b.Subscribe(func(s status.Snapshot) {
		if calls.Add(1) > 1 {
			<-release
		}
	})()

	fast := &recorder{}
	defer b.Subscribe(fast.record)()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			n := i
			b.Update(func(s *status.Snapshot) { s.PendingChanges = n })
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	require.Eventually(t, func() bool { return fast.last().PendingChanges == 100 }, time.Second, 5*time.Millisecond)
	close(release)
}

func TestUpdate_DeliversEveryChangeInOrder(t *testing.T) {
	b := New(status.Snapshot{IsOnline: true}, logging.Discard())
	defer b.Close()

	gate := make(chan struct{})
	rec := &recorder{}
	var first atomic.Bool
	defer b.Subscribe(func(s status.Snapshot) {
		if first.CompareAndSwap(false, true) {
			rec.record(s)
			return
		}
		<-gate
		rec.record(s)
	})()

	for i := 1; i <= 5; i++ {
		n := i
		b.Update(func(s *status.Snapshot) { s.PendingChanges = n })
	}
	b.Update(func(s *status.Snapshot) { s.IsSyncing = true })
	for i := 4; i >= 0; i-- {
		n := i
		b.Update(func(s *status.Snapshot) { s.PendingChanges = n })
	}
	b.Update(func(s *status.Snapshot) { s.IsSyncing = false })
	close(gate)

	require.Eventually(t, func() bool { return len(rec.all()) == 13 }, time.Second, 5*time.Millisecond)

	var pending []int
	var syncing []bool
	for _, s := range rec.all() {
		pending = append(pending, s.PendingChanges)
		if len(syncing) == 0 || syncing[len(syncing)-1] != s.IsSyncing {
			syncing = append(syncing, s.IsSyncing)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 5, 4, 3, 2, 1, 0, 0}, pending)
	assert.Equal(t, []bool{false, true, false}, syncing)
}

func TestUnsubscribe_StopsDeliveries(t *testing.T) {
	b := New(status.Snapshot{}, logging.Discard())
	defer b.Close()

	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.record)
	unsubscribe()
	unsubscribe()

	b.Update(func(s *status.Snapshot) { s.Conflicts = 1 })
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, rec.all(), 1)
	assert.Zero(t, b.Subscribers())
}

func TestSubscriberPanicIsContained(t *testing.T) {
	b := New(status.Snapshot{}, logging.Discard())
	defer b.Close()

	defer b.Subscribe(func(status.Snapshot) { panic("boom") })()
	rec := &recorder{}
	defer b.Subscribe(rec.record)()

	b.Update(func(s *status.Snapshot) { s.IsSyncing = true })

	require.Eventually(t, func() bool { return rec.last().IsSyncing }, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	b := New(status.Snapshot{}, logging.Discard())
	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.record)

	b.Close()
	b.Close()
	unsubscribe()

	late := &recorder{}
	b.Subscribe(late.record)()
	assert.Len(t, late.all(), 1, "closed broadcaster still hands out the final snapshot")
}

func TestSnapshotsAreIsolated(t *testing.T) {
	now := time.Now()
	b := New(status.Snapshot{LastSyncTime: &now}, logging.Discard())
	defer b.Close()

	var got status.Snapshot
	b.Subscribe(func(s status.Snapshot) { got = s })()
	*got.LastSyncTime = now.Add(time.Hour)

	assert.True(t, b.Current().LastSyncTime.Equal(now))
}
