package core

import "sync"

type flowLock struct {
	sync.Mutex
	refs      int
	forgotten bool
}

// flowLocks serializes every state mutation of one flow. A flow's mutex
// outlives forget while goroutines that retained it are still running.
type flowLocks struct {
	mu sync.Mutex
	m  map[string]*flowLock
}

func (l *flowLocks) entryLocked(flowID string) *flowLock {
	if l.m == nil {
		l.m = make(map[string]*flowLock)
	}
	e, ok := l.m[flowID]
	if !ok {
		e = &flowLock{}
		l.m[flowID] = e
	}
	return e
}

func (l *flowLocks) lock(flowID string) func() {
	l.mu.Lock()
	e := l.entryLocked(flowID)
	l.mu.Unlock()

	e.Lock()
	return e.Unlock
}

// retain pins flowID's mutex for a goroutine that will lock it later.
// Every retain is paired with a release when the goroutine exits.
func (l *flowLocks) retain(flowID string) {
	l.mu.Lock()
	l.entryLocked(flowID).refs++
	l.mu.Unlock()
}

func (l *flowLocks) release(flowID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[flowID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 && e.forgotten {
		delete(l.m, flowID)
	}
}

// forget drops flowID's mutex, or defers that until the last retained
// goroutine releases it.
func (l *flowLocks) forget(flowID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[flowID]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.forgotten = true
		return
	}
	delete(l.m, flowID)
}
