package peerroll

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// memExchange is an in-memory stand-in for the host agent's peer relation:
// one shared data bag per unit, plus a membership list. It is strongly
// consistent, which is fine for tests; the protocol only gets easier when
// the store is better behaved than it promises to be.
type memExchange struct {
	mu      sync.Mutex
	data    map[string]map[string]string
	members map[string]bool
	writes  int
	// writesUntilFail counts down on each write; at zero, writes fail until
	// healWrites. Negative means writes never fail.
	writesUntilFail int
}

func newMemExchange(units ...string) *memExchange {
	e := &memExchange{
		data:            map[string]map[string]string{},
		members:         map[string]bool{},
		writesUntilFail: -1,
	}
	for _, u := range units {
		e.members[u] = true
	}
	return e
}

// forUnit returns a Store scoped to one unit's write access.
func (e *memExchange) forUnit(unit string) *unitStore {
	return &unitStore{exchange: e, unit: unit}
}

func (e *memExchange) depart(unit string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.members, unit)
}

func (e *memExchange) join(unit string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.members[unit] = true
}

// setRaw plants an arbitrary data bag for a unit, bypassing the
// single-writer rule. Tests use it to fabricate peers and garbage.
func (e *memExchange) setRaw(unit string, data map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data[unit] = data
}

// failAfter makes the next n writes succeed and everything after fail.
func (e *memExchange) failAfter(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writesUntilFail = n
}

func (e *memExchange) healWrites() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writesUntilFail = -1
}

func (e *memExchange) writeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

type unitStore struct {
	exchange *memExchange
	unit     string
}

func (s *unitStore) PeerData(ctx context.Context) (map[string]map[string]string, error) {
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()
	snapshot := make(map[string]map[string]string, len(s.exchange.data))
	for unit, bag := range s.exchange.data {
		copied := make(map[string]string, len(bag))
		for k, v := range bag {
			copied[k] = v
		}
		snapshot[unit] = copied
	}
	return snapshot, nil
}

func (s *unitStore) SetOwnData(ctx context.Context, data map[string]string) error {
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()
	if s.exchange.writesUntilFail == 0 {
		return errors.New("relation data unavailable")
	}
	if s.exchange.writesUntilFail > 0 {
		s.exchange.writesUntilFail--
	}
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	s.exchange.data[s.unit] = copied
	s.exchange.writes++
	return nil
}

func (s *unitStore) Membership(ctx context.Context) ([]string, error) {
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()
	members := make([]string, 0, len(s.exchange.members))
	for u := range s.exchange.members {
		members = append(members, u)
	}
	sort.Strings(members)
	return members, nil
}

// mockGuard is a settable Guard.
type mockGuard struct {
	mu        sync.Mutex
	departing bool
}

func (g *mockGuard) Departing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.departing
}

func (g *mockGuard) setDeparting(d bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.departing = d
}
