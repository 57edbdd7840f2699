package peerroll

import (
	"context"
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/peerroll/peerroll/internal/wire"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Roller coordinates this unit's participation in rolling operations. It owns
// the unit's published entry in the shared exchange and is its sole writer;
// everything it knows about the rest of the fleet it re-derives from a fresh
// snapshot on every Sync.
//
// A Roller does no work on its own: the hosting agent calls Request to start
// or join a round and Sync whenever the exchange changes, and the operation
// callback runs synchronously inside those calls.
type Roller struct {
	store Store
	unit  string
	op    Operation

	clock       clock.Clock
	tokenPolicy TokenPolicy
	waveSize    int
	maxAttempts int
	guard       Guard
	hostLock    *hostLock

	stateLock sync.Mutex
	state     Status
	round     string
	attempt   int
	started   bool
	override  Operation
	outcome   *Outcome
	// dirty is set when a publish failed, meaning the exchange still shows
	// an older state than ours. The next Sync republishes before deciding
	// anything.
	dirty bool
	// completeC is closed when this unit's operation has reached a terminal
	// status for the current round. Request replaces it for the next round.
	completeC chan struct{}

	l log15.Logger
}

// Option is an option function for Roller.
// See Rob Pike's post on the topic for more information on this pattern:
// https://commandcenter.blogspot.com/2014/01/self-referential-functions-and-design.html
type Option func(r *Roller)

// WithLogger configures the logger to use for coordination events.
// By default, nothing will be logged.
func WithLogger(l log15.Logger) Option {
	return func(r *Roller) {
		r.l = l
	}
}

// WithClock configures the clock used to timestamp published records.
func WithClock(c clock.Clock) Option {
	return func(r *Roller) {
		r.clock = c
	}
}

// WithTokenPolicy configures how the fleet converges when concurrent
// requests produce distinct round tokens. Every unit in the fleet must use
// the same policy. The default is LowestToken.
func WithTokenPolicy(p TokenPolicy) Option {
	return func(r *Roller) {
		r.tokenPolicy = p
	}
}

// WithWaveSize allows up to n units to run the operation at once. The
// default, 1, is strict one-at-a-time rolling. Values below 1 are treated
// as 1.
func WithWaveSize(n int) Option {
	return func(r *Roller) {
		r.waveSize = n
		if r.waveSize < 1 {
			r.waveSize = 1
		}
	}
}

// WithMaxAttempts bounds how many times a retry-later operation is rerun
// within one round before it is recorded as failed. Zero, the default,
// means unbounded.
func WithMaxAttempts(n int) Option {
	return func(r *Roller) {
		r.maxAttempts = n
	}
}

// WithGuard installs a Guard consulted before this unit takes the turn.
func WithGuard(g Guard) Option {
	return func(r *Roller) {
		r.guard = g
	}
}

// WithHostLockDir enables an exclusive file lock under dir so that multiple
// local processes acting for the same unit never evaluate concurrently. The
// directory must exist and be writeable.
func WithHostLockDir(dir string) Option {
	return func(r *Roller) {
		r.hostLock = &hostLock{dir: dir}
	}
}

// New constructs a Roller for the given unit on top of the host-provided
// store. The operation op is what runs when this unit's turn comes; it may
// be overridden per round with RequestOp.
//
// If the unit already published state in a previous incarnation (the hosting
// agent may restart the process at any time), the Roller resumes from that
// published state rather than starting a new life as idle.
func New(ctx context.Context, store Store, unit string, op Operation, opts ...Option) (*Roller, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if unit == "" {
		return nil, errors.New("unit identity must not be empty")
	}
	if op == nil {
		return nil, errors.New("operation must not be nil")
	}

	noopLogger := log15.New()
	noopLogger.SetHandler(log15.DiscardHandler())
	r := &Roller{
		store:       store,
		unit:        unit,
		op:          op,
		clock:       clock.RealClock{},
		tokenPolicy: LowestToken,
		waveSize:    1,
		state:       StatusIdle,
		completeC:   make(chan struct{}),
		l:           noopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.l = r.l.New("unit", unit)
	if r.hostLock != nil {
		r.hostLock.l = r.l
	}

	if err := r.resume(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// resume restores local state from whatever this unit last published. All
// coordination state is re-derivable from the exchange, so a process restart
// mid-round costs nothing but this read.
func (r *Roller) resume(ctx context.Context) error {
	snapshot, err := r.store.PeerData(ctx)
	if err != nil {
		return errors.Wrap(err, "error reading exchange snapshot")
	}
	data, ok := snapshot[r.unit]
	if !ok {
		return nil
	}
	rec, err := wire.Decode(data)
	if err == wire.ErrAbsent {
		return nil
	}
	if err != nil {
		r.l.Warn("own published state is undecodable, starting over", "err", err)
		return nil
	}
	status, err := ParseStatus(rec.State)
	if err != nil {
		r.l.Warn("own published status is unknown, starting over", "err", err)
		return nil
	}
	r.state = status
	r.round = rec.Round
	r.attempt = rec.Attempt
	r.started = rec.Started
	if status == StatusRunning {
		// The previous incarnation died holding the turn. Whether the
		// operation happened is unknowable; it is required to be idempotent,
		// so rejoin the queue and let the next grant re-run it. Leaving the
		// running claim standing would block the whole fleet behind a turn
		// nobody is taking.
		r.l.Warn("resumed while holding the turn, rejoining the queue", "round", rec.Round)
		if err := r.state.transitionTo(StatusWaiting); err != nil {
			return err
		}
		return r.publish(ctx)
	}
	if status.terminal() {
		close(r.completeC)
	}
	if status != StatusIdle {
		r.l.Info("resumed mid-round from published state", "status", status, "round", rec.Round)
	}
	return nil
}

// Request starts or joins the rolling-operation round identified by token,
// queueing this unit for a turn. The token is chosen by whichever unit
// requests first; see NewRoundToken. Requesting a round this unit already
// finished is a no-op.
//
// Request only publishes the claim; the decision whether this unit's turn
// has come is made by Sync. Hosts whose exchange echoes local writes back as
// change notifications get that for free, others should call Sync right
// after requesting.
func (r *Roller) Request(ctx context.Context, token string) error {
	return r.request(ctx, token, nil)
}

// RequestOp is Request with a one-round override of the operation callback.
func (r *Roller) RequestOp(ctx context.Context, token string, op Operation) error {
	if op == nil {
		return errors.New("operation must not be nil")
	}
	return r.request(ctx, token, op)
}

func (r *Roller) request(ctx context.Context, token string, override Operation) error {
	if token == "" {
		return errors.New("round token must not be empty")
	}
	r.stateLock.Lock()
	if r.guard != nil && r.guard.Departing() {
		r.stateLock.Unlock()
		return errors.New("unit is departing, refusing to request a rolling operation")
	}
	if r.round == token && (r.state.active() || r.state.terminal()) {
		// Already in (or done with) this round.
		if override != nil {
			r.override = override
		}
		r.stateLock.Unlock()
		return nil
	}
	if r.state.terminal() {
		// A new token closes the previous round for this unit.
		if err := r.state.transitionTo(StatusIdle); err != nil {
			r.stateLock.Unlock()
			return err
		}
	}
	if err := r.state.transitionTo(StatusWaiting); err != nil {
		r.stateLock.Unlock()
		return err
	}
	r.round = token
	r.attempt = 0
	r.started = true
	r.override = override
	r.outcome = nil
	r.completeC = make(chan struct{})
	r.l.Info("requested rolling operation", "round", token)
	err := r.publish(ctx)
	r.stateLock.Unlock()
	return err
}

// Sync re-evaluates this unit's position in the current round against a
// fresh snapshot. The hosting agent must call it from every hook that could
// indicate a change in peer state: relation data changed, a unit departed, a
// periodic status check. Calling it more often than necessary is harmless;
// observing an unchanged snapshot produces no transition and no write.
//
// If this unit's turn has come, the operation callback runs synchronously
// inside Sync and its outcome is published before Sync returns. A callback
// failure is recorded and reported via Outcome, not returned as an error;
// the returned error covers store access failures only.
func (r *Roller) Sync(ctx context.Context) error {
	if r.hostLock != nil {
		fileLock, err := r.hostLock.acquire()
		if err == errHostBusy {
			return nil
		}
		if err != nil {
			return err
		}
		defer fileLock.Close()
	}
	for {
		again, err := r.evaluate(ctx)
		if err != nil || !again {
			return err
		}
	}
}

// MemberDeparted re-evaluates after a unit left the fleet. Departure is an
// implicit release: the departed unit vanishes from membership, so its
// entries no longer block the queue. This is identical to Sync and exists so
// hook wiring reads naturally.
func (r *Roller) MemberDeparted(ctx context.Context) error {
	return r.Sync(ctx)
}

// evaluate performs a single decision cycle. It reports whether the local
// state changed in a way that warrants an immediate re-evaluation against a
// fresh snapshot.
func (r *Roller) evaluate(ctx context.Context) (bool, error) {
	snapshot, err := r.store.PeerData(ctx)
	if err != nil {
		return false, errors.Wrap(err, "error reading exchange snapshot")
	}
	membership, err := r.store.Membership(ctx)
	if err != nil {
		return false, errors.Wrap(err, "error reading membership")
	}
	view := buildView(r.l, snapshot, membership, r.tokenPolicy)

	r.stateLock.Lock()

	if r.dirty {
		// A previous publish failed, so peers are acting on a stale picture
		// of us. Bring the exchange up to date first, then re-evaluate
		// against a snapshot that includes the corrected entry.
		r.l.Info("republishing state after earlier publish failure", "state", r.state, "round", r.round)
		err := r.publish(ctx)
		r.stateLock.Unlock()
		return err == nil, err
	}

	if view.empty() {
		// No outstanding requests anywhere in the fleet.
		r.stateLock.Unlock()
		return false, nil
	}

	if r.state.terminal() && r.round != view.round {
		// The fleet moved on to a new campaign while we were finished with
		// the old one. Reset; joining the new round still requires an
		// explicit Request.
		r.l.Info("new round observed, resetting", "finished", r.round, "current", view.round)
		if err := r.state.transitionTo(StatusIdle); err != nil {
			r.stateLock.Unlock()
			return false, err
		}
		r.round = ""
		r.attempt = 0
		r.override = nil
		err := r.publish(ctx)
		r.stateLock.Unlock()
		return false, err
	}

	if r.state.active() && r.round != view.round {
		// Our token lost the tie-break, or we rejoined with a stale cached
		// token. Resynchronize onto the agreed token, keeping our place in
		// the queue, and re-evaluate so the grant check sees the new entry.
		r.l.Info("resynchronizing onto agreed round token", "stale", r.round, "agreed", view.round)
		if err := r.state.transitionTo(StatusWaiting); err != nil {
			r.stateLock.Unlock()
			return false, err
		}
		r.round = view.round
		r.attempt = 0
		err := r.publish(ctx)
		r.stateLock.Unlock()
		return err == nil, err
	}

	if r.state == StatusWaiting {
		if r.guard != nil && r.guard.Departing() {
			r.l.Info("unit is departing, abandoning pending request", "round", r.round)
			err := r.abandonLocked(ctx)
			r.stateLock.Unlock()
			return false, err
		}
		if grantTurn(view, r.unit, r.waveSize) {
			r.stateLock.Unlock()
			return false, r.takeTurn(ctx)
		}
	}

	r.stateLock.Unlock()
	return false, nil
}

// takeTurn claims the turn, runs the operation, and publishes the outcome.
// Exactly one outcome publish happens per invocation even when the operation
// fails or panics; a unit must never vanish from the queue holding the turn.
func (r *Roller) takeTurn(ctx context.Context) error {
	r.stateLock.Lock()
	if err := r.state.transitionTo(StatusRunning); err != nil {
		r.stateLock.Unlock()
		return err
	}
	round, attempt := r.round, r.attempt
	op := r.op
	if r.override != nil {
		op = r.override
	}
	r.l.Info("taking the turn", "round", round, "attempt", attempt)
	err := r.publish(ctx)
	r.stateLock.Unlock()
	if err != nil {
		// The fleet never saw our claim; give the turn back rather than run
		// invisibly.
		r.stateLock.Lock()
		if terr := r.state.transitionTo(StatusWaiting); terr != nil {
			r.l.Error("unable to return the turn after publish failure", "err", terr)
		}
		r.stateLock.Unlock()
		return err
	}

	out := runOperation(ctx, r.l, r.clock, op, round, attempt)

	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	if out.Status == StatusWaiting {
		r.attempt++
		if r.maxAttempts > 0 && r.attempt >= r.maxAttempts {
			out.Status = StatusFailed
			out.Err = errors.Wrapf(out.Err, "retry budget of %d attempts exhausted", r.maxAttempts)
			r.l.Error("retry budget exhausted", "round", round, "attempts", r.attempt)
		}
	}
	if err := r.state.transitionTo(out.Status); err != nil {
		return err
	}
	if out.Status.terminal() {
		r.outcome = &out
		close(r.completeC)
	}
	return r.publish(ctx)
}

// Abandon clears this unit's request back to idle: an outstanding request
// leaves the queue, a completed or failed result is discarded so the round can
// be requested again with the same token. It only ever affects the local unit;
// there is no way to force a peer out of the queue.
func (r *Roller) Abandon(ctx context.Context) error {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	if r.state == StatusIdle {
		return nil
	}
	r.l.Info("abandoning round", "round", r.round, "state", r.state)
	return r.abandonLocked(ctx)
}

func (r *Roller) abandonLocked(ctx context.Context) error {
	if err := r.state.transitionTo(StatusIdle); err != nil {
		return err
	}
	r.round = ""
	r.attempt = 0
	r.override = nil
	return r.publish(ctx)
}

// MarkStarted publishes that this unit has finished its own start-up and may
// be counted in grant ordering. Requesting an operation implies it; calling
// it earlier lets peers distinguish a booting unit from a dead one.
func (r *Roller) MarkStarted(ctx context.Context) error {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	if r.started {
		return nil
	}
	r.started = true
	return r.publish(ctx)
}

// Status reports the given unit's published status for the given round, as
// visible in the current snapshot. A unit that published nothing, published
// garbage, or participated in a different round reads as idle.
func (r *Roller) Status(ctx context.Context, unit, token string) (Status, error) {
	snapshot, err := r.store.PeerData(ctx)
	if err != nil {
		return "", errors.Wrap(err, "error reading exchange snapshot")
	}
	rec, err := wire.Decode(snapshot[unit])
	if err != nil {
		return StatusIdle, nil
	}
	status, err := ParseStatus(rec.State)
	if err != nil || rec.Round != token {
		return StatusIdle, nil
	}
	return status, nil
}

// Outcome returns the result of this unit's most recent completed or failed
// run, and whether one exists for the current round.
func (r *Roller) Outcome() (Outcome, bool) {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	if r.outcome == nil {
		return Outcome{}, false
	}
	return *r.outcome, true
}

// RoundComplete returns a channel which is closed once this unit's operation
// has reached a terminal status for the current round.
func (r *Roller) RoundComplete() <-chan struct{} {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	return r.completeC
}

// publish writes this unit's current state into the exchange. Callers hold
// stateLock.
func (r *Roller) publish(ctx context.Context) error {
	rec := wire.Record{
		Version:   wire.SchemaVersion,
		Round:     r.round,
		State:     string(r.state),
		Attempt:   r.attempt,
		Started:   r.started,
		UpdatedAt: r.clock.Now(),
	}
	if err := r.store.SetOwnData(ctx, wire.Encode(rec)); err != nil {
		r.dirty = true
		return errors.Wrap(err, "error publishing own state")
	}
	r.dirty = false
	return nil
}
