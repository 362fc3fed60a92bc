package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	"github.com/jbctechsolutions/tempo/internal/domain/mutation"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// DefaultRejectionHistory is how many rejections the engine remembers.
const DefaultRejectionHistory = 100

// Rejection is a local write the remote store refused permanently. The
// mutation has been dropped from the queue and its optimistic fields
// discarded from the cache.
type Rejection struct {
	MutationID string        `json:"mutation_id"`
	Ref        entity.Ref    `json:"ref"`
	Op         mutation.Op   `json:"op"`
	Payload    entity.Fields `json:"payload"`
	Reason     string        `json:"reason"`
	RejectedAt time.Time     `json:"rejected_at"`
}

type rejectionFeed struct {
	mu     sync.Mutex
	items  []Rejection
	limit  int
	subs   map[uint64]func(Rejection)
	nextID uint64
	logger *logging.Logger
}

func newRejectionFeed(limit int, logger *logging.Logger) *rejectionFeed {
	if limit <= 0 {
		limit = DefaultRejectionHistory
	}
	return &rejectionFeed{
		limit:  limit,
		subs:   make(map[uint64]func(Rejection)),
		logger: logger,
	}
}

func (f *rejectionFeed) add(r Rejection) {
	f.mu.Lock()
	f.items = append(f.items, r)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Rejection(nil), f.items[over:]...)
	}
	subs := make([]func(Rejection), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		f.call(fn, r)
	}
}

func (f *rejectionFeed) call(fn func(Rejection), r Rejection) {
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("rejection subscriber panicked", "panic", fmt.Sprint(p))
		}
	}()
	fn(r)
}

func (f *rejectionFeed) list() []Rejection {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Rejection, len(f.items))
	for i, r := range f.items {
		r.Payload = r.Payload.Clone()
		out[i] = r
	}
	return out
}

func (f *rejectionFeed) subscribe(fn func(Rejection)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
