package peerroll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func viewOf(entries ...peerEntry) peerView {
	return peerView{round: "r1", entries: entries}
}

func waiting(unit string) peerEntry {
	return peerEntry{unit: unit, status: StatusWaiting, round: "r1", started: true}
}

func running(unit string) peerEntry {
	return peerEntry{unit: unit, status: StatusRunning, round: "r1", started: true}
}

func completed(unit string) peerEntry {
	return peerEntry{unit: unit, status: StatusCompleted, round: "r1", started: true}
}

func TestGrantSoleWaiter(t *testing.T) {
	assert.True(t, grantTurn(viewOf(waiting("a")), "a", 1))
}

func TestGrantFirstOfQueue(t *testing.T) {
	v := viewOf(waiting("a"), waiting("b"), waiting("c"))
	assert.True(t, grantTurn(v, "a", 1))
	assert.False(t, grantTurn(v, "b", 1))
	assert.False(t, grantTurn(v, "c", 1))
}

func TestGrantBlockedByRunningPeer(t *testing.T) {
	v := viewOf(waiting("a"), running("b"))
	assert.False(t, grantTurn(v, "a", 1))
}

func TestGrantAfterPeerCompletes(t *testing.T) {
	v := viewOf(completed("a"), waiting("b"), waiting("c"))
	assert.True(t, grantTurn(v, "b", 1))
	assert.False(t, grantTurn(v, "c", 1))
}

func TestGrantSkipsUnstartedUnits(t *testing.T) {
	// A unit still booting queues but must not wedge the round; the first
	// started waiter goes instead.
	booting := peerEntry{unit: "a", status: StatusWaiting, round: "r1"}
	v := viewOf(booting, waiting("b"))
	assert.False(t, grantTurn(v, "a", 1))
	assert.True(t, grantTurn(v, "b", 1))
}

func TestGrantWaves(t *testing.T) {
	v := viewOf(waiting("a"), waiting("b"), waiting("c"))
	assert.True(t, grantTurn(v, "a", 2))
	assert.True(t, grantTurn(v, "b", 2))
	assert.False(t, grantTurn(v, "c", 2))

	// One slot consumed by a running unit.
	v = viewOf(running("a"), waiting("b"), waiting("c"))
	assert.True(t, grantTurn(v, "b", 2))
	assert.False(t, grantTurn(v, "c", 2))
}

func TestGrantSelfNotInView(t *testing.T) {
	// A unit that has not published its request yet cannot be granted.
	v := viewOf(waiting("b"))
	assert.False(t, grantTurn(v, "a", 1))
}
