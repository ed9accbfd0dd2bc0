package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func (l *flowLocks) tracked(flowID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.m[flowID]
	return ok
}

func TestFlowLocksForgetWaitsForRetainedGoroutines(t *testing.T) {
	var l flowLocks

	l.retain("f1")
	before := l.m["f1"]

	unlock := l.lock("f1")
	l.forget("f1")
	unlock()
	assert.True(t, l.tracked("f1"))

	unlock = l.lock("f1")
	assert.Same(t, before, l.m["f1"])
	unlock()

	l.release("f1")
	assert.False(t, l.tracked("f1"))
}

func TestFlowLocksForgetWithoutRetainDropsImmediately(t *testing.T) {
	var l flowLocks

	unlock := l.lock("f1")
	unlock()
	l.forget("f1")
	assert.False(t, l.tracked("f1"))

	l.release("f1")
	l.forget("missing")
	assert.False(t, l.tracked("missing"))
}
