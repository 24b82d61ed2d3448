package window

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
)

type memoryEntry struct {
	id        string
	expiresAt time.Time
}

// MemoryWindow is a bounded, time-windowed set of event ids for a single
// process. Expired ids are evicted lazily on access and the oldest id is
// dropped when the window is full.
type MemoryWindow struct {
	mu         sync.Mutex
	clock      clock.Clock
	retention  time.Duration
	maxEntries int
	order      *list.List
	entries    map[string]*list.Element
	closed     bool
}

func NewMemoryWindow(c clock.Clock, retention time.Duration, maxEntries int) *MemoryWindow {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &MemoryWindow{
		clock:      c,
		retention:  retention,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (w *MemoryWindow) Claim(_ context.Context, eventID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, intakedomain.ErrWindowClosed
	}

	now := w.clock.Now()
	w.evictExpired(now)
	if _, ok := w.entries[eventID]; ok {
		return false, nil
	}
	for w.order.Len() >= w.maxEntries {
		w.remove(w.order.Front())
	}
	w.entries[eventID] = w.order.PushBack(memoryEntry{id: eventID, expiresAt: now.Add(w.retention)})
	return true, nil
}

func (w *MemoryWindow) Forget(_ context.Context, eventID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if el, ok := w.entries[eventID]; ok {
		w.remove(el)
	}
	return nil
}

func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}

func (w *MemoryWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.order.Init()
	w.entries = make(map[string]*list.Element)
	return nil
}

// evictExpired relies on entries being appended in claim order.
func (w *MemoryWindow) evictExpired(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Before(el.Value.(memoryEntry).expiresAt) {
			return
		}
		w.remove(el)
	}
}

func (w *MemoryWindow) remove(el *list.Element) {
	delete(w.entries, el.Value.(memoryEntry).id)
	w.order.Remove(el)
}
