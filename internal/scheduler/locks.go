package scheduler

import "sync"

// Locks hands out one exclusion token per equipment.
type Locks struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

// NewLocks creates an empty token set.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]uint64)}
}

// TryAcquire takes the token for equipmentID without blocking. The returned
// release func is idempotent and only frees the token it acquired.
func (l *Locks) TryAcquire(equipmentID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[equipmentID]; busy {
		return nil, false
	}
	l.seq++
	token := l.seq
	l.held[equipmentID] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[equipmentID] == token {
				delete(l.held, equipmentID)
			}
		})
	}, true
}

// Held reports whether equipmentID has a run in flight.
func (l *Locks) Held(equipmentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[equipmentID]
	return ok
}

// Len returns the number of held tokens.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// Reset drops every token. Outstanding release funcs become no-ops.
func (l *Locks) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = make(map[string]uint64)
}
