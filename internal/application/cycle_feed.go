package application

import (
	"context"
	"sync"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/metrics"
)

// cycleFeed persists cycle records and hands each saved record to
// subscribers.
type cycleFeed struct {
	ports.CycleStoragePort

	mu     sync.Mutex
	subs   map[uint64]func(metrics.CycleRecord)
	nextID uint64
}

func newCycleFeed(store ports.CycleStoragePort) *cycleFeed {
	return &cycleFeed{
		CycleStoragePort: store,
		subs:             make(map[uint64]func(metrics.CycleRecord)),
	}
}

func (f *cycleFeed) SaveCycle(ctx context.Context, rec *metrics.CycleRecord) error {
	if err := f.CycleStoragePort.SaveCycle(ctx, rec); err != nil {
		return err
	}

	f.mu.Lock()
	subs := make([]func(metrics.CycleRecord), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(*rec)
	}
	return nil
}

func (f *cycleFeed) subscribe(fn func(metrics.CycleRecord)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}
