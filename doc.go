// Package peerroll implements leaderless rolling operations across a fleet of
// cooperating units.
//
// A rolling operation is a disruptive action (a restart, an upgrade, a config
// reload) that should run on one unit at a time, or in bounded-size waves,
// without any central scheduler deciding whose turn it is. Coordination
// happens entirely through a shared, eventually-consistent key-value exchange
// provided by the hosting agent: each unit publishes its own state under its
// own key and reads every peer's state, and nothing else.
//
// Every unit runs the same algorithm over the same (eventually consistent)
// data: among the units waiting for a turn in the current round, the one whose
// identity sorts first goes next, provided nobody is observed running. Because
// the ordering is deterministic, all peers converge on the same conclusion
// without electing a leader. Convergence is eventual, not instantaneous, so
// brief windows where zero or more than one unit believes it holds the turn
// can occur under propagation delay; the operation callback must therefore be
// safe to run concurrently with a straggler, typically by being idempotent.
//
// The library has no event loop of its own. The hosting agent drives it by
// calling Request when an operation is wanted and Sync whenever the shared
// exchange changes; both are synchronous and return once the local unit has
// nothing further to do. How the exchange is implemented, and how change
// notifications are delivered, is entirely out of scope of this library. The
// host supplies both through the Store interface.
package peerroll
