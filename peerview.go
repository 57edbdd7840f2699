package peerroll

import (
	"github.com/inconshreveable/log15"
	"github.com/peerroll/peerroll/internal/wire"
)

// peerEntry is one unit's decoded, validated state as observed in a snapshot.
type peerEntry struct {
	unit    string
	status  Status
	round   string
	attempt int
	started bool
}

// peerView is the fleet's state as derived from one exchange snapshot. It is
// advisory: the snapshot it was built from is not guaranteed fresh or
// complete, so a view is consulted for exactly one decision and then thrown
// away. Views are never cached across snapshots.
type peerView struct {
	// round is the fleet's agreed round token, or "" when no unit has an
	// outstanding request and the view is empty.
	round string
	// entries holds every non-idle entry published for the agreed round,
	// ordered by unit identity. This ordering is the one grant decisions
	// are computed over.
	entries []peerEntry
}

// empty reports whether no round is in progress.
func (v peerView) empty() bool {
	return v.round == ""
}

// buildView derives a peerView from a raw exchange snapshot and the current
// membership list. It is a pure function of its inputs; the logger only
// receives diagnostics about peers that were excluded.
//
// Units absent from membership are ignored entirely, even if they left data
// behind: a departed unit's stale entry must not block the queue. Units whose
// data does not decode are likewise excluded, never fatal. If multiple round
// tokens are outstanding (concurrent requests racing to start a campaign),
// the policy picks the single agreed token; outstanding entries under losing
// tokens are dropped from the view, their authors resynchronize on their own.
func buildView(l log15.Logger, snapshot map[string]map[string]string, membership []string, policy TokenPolicy) peerView {
	entries := make([]peerEntry, 0, len(membership))
	for _, unit := range sortedUnits(membership) {
		data, ok := snapshot[unit]
		if !ok {
			continue
		}
		rec, err := wire.Decode(data)
		if err == wire.ErrAbsent {
			continue
		}
		if err != nil {
			l.Warn("excluding peer with undecodable state", "unit", unit, "err", err)
			continue
		}
		status, err := ParseStatus(rec.State)
		if err != nil {
			l.Warn("excluding peer with unknown status", "unit", unit, "err", err)
			continue
		}
		if status == StatusIdle {
			continue
		}
		entries = append(entries, peerEntry{
			unit:    unit,
			status:  status,
			round:   rec.Round,
			attempt: rec.Attempt,
			started: rec.Started,
		})
	}

	// The agreed token is derived from outstanding requests only. Terminal
	// entries keep the token they finished under, but they cannot hold a
	// round open by themselves.
	var tokens []string
	seen := map[string]bool{}
	for _, e := range entries {
		if e.status.active() && !seen[e.round] {
			seen[e.round] = true
			tokens = append(tokens, e.round)
		}
	}
	if len(tokens) == 0 {
		return peerView{}
	}
	round := policy(tokens)
	if len(tokens) > 1 {
		l.Info("multiple round tokens outstanding, converging", "tokens", tokens, "winner", round)
	}

	// entries is already in identity order because membership was walked
	// sorted, so the view inherits the grant ordering for free.
	view := peerView{round: round}
	for _, e := range entries {
		if e.round == round {
			view.entries = append(view.entries, e)
		}
	}
	return view
}
