package peerroll

// grantTurn decides whether the unit self may take the turn given the view.
// It is the heart of the protocol and is a pure function: every peer
// evaluating it over an identical view reaches an identical conclusion, which
// is what stands in for a leader.
//
// A turn is granted when fewer than waveSize units are observed running and
// self is among the first free slots' worth of waiting units in identity
// order. With the default wave size of 1 this reduces to: nobody is running,
// and self sorts first among the waiters.
//
// Units that have not marked themselves started are skipped in the queue so a
// still-booting peer cannot wedge the round, but a running unit is counted
// against the wave regardless; a claim on the turn is honored even if our
// picture of the claimant is otherwise suspect.
func grantTurn(v peerView, self string, waveSize int) bool {
	running := 0
	for _, e := range v.entries {
		if e.status == StatusRunning && e.unit != self {
			running++
		}
	}
	slots := waveSize - running
	if slots <= 0 {
		return false
	}

	for _, e := range v.entries {
		if e.status != StatusWaiting || !e.started {
			continue
		}
		if e.unit == self {
			return true
		}
		slots--
		if slots == 0 {
			return false
		}
	}
	return false
}
