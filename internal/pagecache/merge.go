package pagecache

import (
	"log"
	"sync"

	"github.com/blockcache/pagecache/internal/status"
)

// merge is a fan-in combinator: it aggregates an a-priori unknown number of
// concurrent status callbacks into exactly one call to a final completion,
// the same "reserve one, apply N, release the reservation" shape as a
// sync.WaitGroup.
//
// Counting is off-by-one safe: the caller reserves one handler with
// applyMerge before issuing any I/O, and fires it with status.OK only after
// every sub-operation has been enqueued. That guarantees the completion
// can't fire while the caller is still in the middle of issuing work.
type merge struct {
	mu         sync.Mutex
	pending    int
	result     status.Status
	fired      bool
	completion func(status.Status)
}

func newMerge(completion func(status.Status)) *merge {
	return &merge{result: status.OK, completion: completion}
}

// applyMerge reserves one pending slot and returns a status handler that
// fills it. The handler may be called at most once.
func (m *merge) applyMerge() func(status.Status) {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()

	var once sync.Once
	return func(s status.Status) {
		once.Do(func() { m.resolve(s) })
	}
}

func (m *merge) resolve(s status.Status) {
	m.mu.Lock()
	m.pending--
	if !status.IsOK(s) {
		if status.IsOK(m.result) {
			m.result = s
		} else {
			log.Printf("pagecache: additional error after first: %v", s)
		}
	}
	fire := m.pending == 0 && !m.fired
	if fire {
		m.fired = true
	}
	result := m.result
	m.mu.Unlock()

	if fire {
		m.completion(result)
	}
}
