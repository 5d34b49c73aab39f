// Package lock provides per-record write locks taken around ledger
// transactions. Keys are always acquired in sorted order.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

var ErrNotObtained = errors.New("record is locked by another operation")

// Release frees every key taken by one Acquire call.
type Release func()

type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

func DispatchKey(id string) string { return "dispatch:" + id }

func UsageKey(id string) string { return "usage:" + id }

// IssuancePoolKey covers every issuance of one company/market/pack.
func IssuancePoolKey(company, market, pack string) string {
	return "issuance-pool:" + company + ":" + market + ":" + pack
}

// PrefixKey serializes range allocation within one label prefix.
func PrefixKey(prefix string) string { return "prefix:" + prefix }

func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed mutex. A waiter gives up after wait.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
	wait    time.Duration
}

func NewLocal(wait time.Duration) *Local {
	if wait <= 0 {
		wait = 15 * time.Second
	}
	return &Local{entries: make(map[string]*entry), wait: wait}
}

func (l *Local) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = normalize(keys)
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		e := l.ref(key)
		select {
		case e.sem <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.unref(key, false)
			l.release(held)
			return nil, ErrNotObtained
		}
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

func (l *Local) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string, drain bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	if drain {
		<-e.sem
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Local) release(held []string) {
	for i := len(held) - 1; i >= 0; i-- {
		l.unref(held[i], true)
	}
}
