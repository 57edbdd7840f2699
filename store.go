package peerroll

import "context"

// Store is the shared key-value exchange the fleet coordinates over. It is
// implemented by the hosting agent; canonically it is backed by a peer
// relation data bag, but any eventually-consistent multi-reader store where
// each unit exclusively writes its own entry will do.
//
// Reads are advisory: a snapshot may be stale or incomplete, peers may be
// mid-update or departed. The library re-derives every decision from a fresh
// snapshot on each Sync and never caches a decision across snapshots.
type Store interface {
	// PeerData returns a snapshot of every unit's published data bag,
	// keyed by unit identity. The local unit's own bag is included.
	PeerData(ctx context.Context) (map[string]map[string]string, error)

	// SetOwnData replaces the local unit's published data bag. A unit only
	// ever writes its own entry, never a peer's.
	SetOwnData(ctx context.Context, data map[string]string) error

	// Membership returns the identities of the units currently considered
	// live members of the fleet. A unit present in PeerData but absent from
	// Membership has departed; its published state is ignored.
	Membership(ctx context.Context) ([]string, error)
}

// Guard lets the host veto turn-taking while the local unit is in a state
// where running the operation would be unsafe, for example while the unit is
// being removed from the fleet. A departing unit abandons any pending request
// and never takes the turn.
//
// A nil Guard never vetoes.
type Guard interface {
	Departing() bool
}
