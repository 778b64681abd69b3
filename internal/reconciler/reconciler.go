package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"call-console/internal/event"
)

// Reconciler derives a coherent call state machine from the relay's ambiguous
// event stream. It owns the two tracked-call slots (inbound, outbound) and is
// the only writer to them; popup views and HTTP handlers read Snapshots.
//
// Classification priority (first match wins):
//  1. termination-class events, checked before origination because the shapes
//     overlap on the wire
//  2. missed-call sub-types, which clear state even against a conflicting
//     connected field in the same payload
//  3. the "ended" disjunction
//  4. connect/answer signals
//  5. origination, after rejecting stale call logs
//
// Events that fit nothing are dropped silently; they are expected relay noise.
type Reconciler struct {
	mu sync.Mutex

	op    Operator
	obs   Observer
	audit TransitionLogger
	log   *slog.Logger

	clock func() time.Time
	after func(d time.Duration, fn func()) *time.Timer

	missTimeout time.Duration
	clearDelay  time.Duration

	inbound  *trackedCall
	outbound *trackedCall

	missTimer  *time.Timer
	clearTimer *time.Timer

	epochSeq uint64
}

const (
	defaultMissTimeout = 30 * time.Second
	defaultClearDelay  = 2 * time.Second
)

func New(op Operator, obs Observer, audit TransitionLogger, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		op:          op,
		obs:         obs,
		audit:       audit,
		log:         log,
		clock:       time.Now,
		after:       time.AfterFunc,
		missTimeout: defaultMissTimeout,
		clearDelay:  defaultClearDelay,
	}
}

// HandleEvent implements the stream sink.
func (r *Reconciler) HandleEvent(ctx context.Context, env event.Envelope) {
	ev := event.Normalize(env)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case ev.IsTerminationClass():
		r.handleTermination(ctx, ev)
	case ev.Type == event.TypeIncomingCall && len(env.Data) > 0:
		r.handleIncoming(ctx, ev)
	default:
		r.log.Debug("event ignored", "type", ev.Type)
	}
}

// InboundSnapshot returns the tracked inbound call, if any.
func (r *Reconciler) InboundSnapshot() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inbound == nil {
		return Snapshot{}, false
	}
	return r.inbound.snapshot(), true
}

// OutboundSnapshot returns the tracked outbound call, if any.
func (r *Reconciler) OutboundSnapshot() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outbound == nil {
		return Snapshot{}, false
	}
	return r.outbound.snapshot(), true
}

// StartOutbound registers a freshly initiated outbound call. Outbound calls
// are created by the dispatcher, never from the stream.
func (r *Reconciler) StartOutbound(ctx context.Context, callID, destination string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopClearTimer()
	r.epochSeq++
	r.outbound = &trackedCall{
		CallID:       callID,
		Counterparty: destination,
		Direction:    DirectionOutbound,
		Status:       StatusRinging,
		StartedAt:    r.clock(),
		epoch:        r.epochSeq,
	}
	snap := r.outbound.snapshot()
	r.notify(Notification{Kind: KindOutboundRinging, Direction: DirectionOutbound, Call: snap})
	return snap
}

// OnActionResult applies a gateway response to local state. A gateway status
// of 2 is an authoritative "call already gone" and clears the same state a
// termination stream event would; audit entries for actions are written by
// the dispatcher, not here.
func (r *Reconciler) OnActionResult(ctx context.Context, res ActionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.GatewayStatus == 2 {
		switch res.Direction {
		case DirectionInbound:
			if r.inbound != nil {
				snap := r.clearInbound()
				r.notify(Notification{Kind: KindCallEnded, Direction: DirectionInbound, Call: snap, Outcome: OutcomeEnded, Reason: "remote_ended"})
			}
		case DirectionOutbound:
			if r.outbound != nil {
				r.endOutbound("remote_ended")
			}
		}
		return
	}
	if res.GatewayStatus != 1 {
		// Failure: local state untouched; the dispatcher surfaces the error.
		return
	}

	switch res.Action {
	case ActionAccept:
		if r.inbound != nil {
			r.connectInbound()
		}
	case ActionReject:
		if r.inbound != nil {
			snap := r.clearInbound()
			r.notify(Notification{Kind: KindCallEnded, Direction: DirectionInbound, Call: snap, Outcome: OutcomeRejected, Reason: "rejected"})
		}
	case ActionDisconnect:
		switch res.Direction {
		case DirectionInbound:
			if r.inbound != nil {
				snap := r.clearInbound()
				r.notify(Notification{Kind: KindCallEnded, Direction: DirectionInbound, Call: snap, Outcome: OutcomeEnded, Reason: "disconnected"})
			}
		case DirectionOutbound:
			if r.outbound != nil {
				r.endOutbound("disconnected")
			}
		}
	case ActionHold, ActionResume, ActionConference:
		snap, ok := r.snapshotFor(res.Direction)
		if ok {
			r.notify(Notification{Kind: KindCallUpdated, Direction: res.Direction, Call: snap, Reason: string(res.Action)})
		}
	}
}

/* ===================== STREAM CLASSIFICATION ===================== */

func (r *Reconciler) handleTermination(ctx context.Context, ev event.Event) {
	inMatch := r.matchesTracked(r.inbound, ev)
	outMatch := r.matchesTracked(r.outbound, ev)

	// Missed sub-types clear the inbound call no matter what else the payload
	// claims; the provider sends contradictory fields in one envelope.
	if ev.IsMissedType() {
		if !inMatch {
			return
		}
		outcome, kind := OutcomeMissed, KindCallMissed
		if r.inbound.Status == StatusConnected {
			outcome, kind = OutcomeEnded, KindCallEnded
		}
		snap := r.clearInbound()
		r.notify(Notification{Kind: kind, Direction: DirectionInbound, Call: snap, Outcome: outcome, Reason: "missed_call"})
		r.logTransition(ctx, string(outcome), snap)
		return
	}

	if ev.EndSignal() && !ev.SuppressDisconnect() {
		if inMatch {
			snap := r.clearInbound()
			r.notify(Notification{Kind: KindCallEnded, Direction: DirectionInbound, Call: snap, Outcome: OutcomeEnded})
			r.logTransition(ctx, "ended", snap)
		}
		if outMatch {
			snap := r.endOutbound("")
			r.logTransition(ctx, "ended", snap)
		}
		return
	}

	// Connect signals. A destination-side status pins the outbound leg; the
	// generic answered_call type connects whichever call matched.
	if outMatch && ev.BPartyConnected() {
		r.connectOutbound()
		return
	}
	if inMatch && (ev.ConnectedStatus() || ev.IsAnsweredType()) {
		r.connectInbound()
		return
	}
	if outMatch && (ev.ConnectedStatus() || ev.IsAnsweredType()) {
		r.connectOutbound()
	}
}

func (r *Reconciler) handleIncoming(ctx context.Context, ev event.Event) {
	if !r.ownershipAccepts(ev) {
		// Dropped silently, unless it names our tracked call: the call was
		// reassigned to another operator. A connect update lacking a
		// destination number is not treated as a reassignment.
		if r.inbound != nil && ev.CallID != "" && ev.CallID == r.inbound.CallID {
			if ev.ConnectedStatus() && ev.Destination == "" {
				return
			}
			snap := r.clearInbound()
			r.notify(Notification{Kind: KindCallEnded, Direction: DirectionInbound, Call: snap, Outcome: OutcomeEnded, Reason: "reassigned"})
			r.logTransition(ctx, "ended", snap)
		}
		return
	}

	// Implicit id match: an id-less follow-up belongs to the only tracked
	// inbound call once the ownership filter accepted it.
	if r.inbound != nil && (ev.CallID == "" || ev.CallID == r.inbound.CallID) {
		r.updateInbound(ctx, ev)
		return
	}

	// Creation path. Reject stale call logs of completed calls first.
	if ev.IsStaleLog() {
		r.log.Debug("stale call log dropped", "call_id", ev.CallID)
		return
	}
	if r.inbound != nil {
		// A new origination supersedes whatever was tracked; last write wins.
		snap := r.clearInbound()
		r.notify(Notification{Kind: KindCallEnded, Direction: DirectionInbound, Call: snap, Outcome: OutcomeEnded, Reason: "superseded"})
	}

	r.epochSeq++
	r.inbound = &trackedCall{
		CallID:       ev.CallID,
		Counterparty: ev.AParty,
		Direction:    DirectionInbound,
		Status:       StatusRinging,
		StartedAt:    r.clock(),
		raw:          ev.Raw,
		epoch:        r.epochSeq,
	}
	r.armMissTimer(r.inbound.epoch)
	r.notify(Notification{Kind: KindInboundRinging, Direction: DirectionInbound, Call: r.inbound.snapshot()})
}

func (r *Reconciler) updateInbound(ctx context.Context, ev event.Event) {
	if ev.AParty != "" && r.inbound.Counterparty == "" {
		r.inbound.Counterparty = ev.AParty
	}
	r.inbound.raw = ev.Raw

	if ev.EndSignal() && !ev.SuppressDisconnect() {
		snap := r.clearInbound()
		r.notify(Notification{Kind: KindCallEnded, Direction: DirectionInbound, Call: snap, Outcome: OutcomeEnded})
		r.logTransition(ctx, "ended", snap)
		return
	}
	if ev.ConnectedStatus() {
		r.connectInbound()
		return
	}
	r.notify(Notification{Kind: KindCallUpdated, Direction: DirectionInbound, Call: r.inbound.snapshot()})
}

// matchesTracked reports whether an event belongs to the given tracked call.
// With an id present this is a plain comparison. Without one, the implicit
// fallback applies: the provider omits ids on some terminal and relay events,
// so an id-less event is matched to the only tracked call of its direction
// when it looks like a connect/answer for that direction, is a missed-call
// sub-type, or carries the tracked call's counterparty number.
func (r *Reconciler) matchesTracked(c *trackedCall, ev event.Event) bool {
	if c == nil {
		return false
	}
	if ev.CallID != "" {
		return ev.CallID == c.CallID
	}
	if connectLooking(c.Direction, ev) {
		return true
	}
	if c.Direction == DirectionInbound && ev.IsMissedType() {
		return true
	}
	if ev.AParty != "" && ev.AParty == c.Counterparty {
		return true
	}
	return false
}

func connectLooking(dir Direction, ev event.Event) bool {
	if ev.ConnectedStatus() || ev.IsAnsweredType() {
		return true
	}
	return dir == DirectionOutbound && ev.BPartyConnected()
}

/* ===================== TRANSITIONS ===================== */

func (r *Reconciler) connectInbound() {
	if r.inbound.Status == StatusConnected {
		return
	}
	r.inbound.Status = StatusConnected
	r.stopMissTimer()
	r.notify(Notification{Kind: KindInboundConnected, Direction: DirectionInbound, Call: r.inbound.snapshot()})
}

func (r *Reconciler) connectOutbound() {
	if r.outbound.Status != StatusRinging {
		return
	}
	r.outbound.Status = StatusConnected
	r.notify(Notification{Kind: KindOutboundConnected, Direction: DirectionOutbound, Call: r.outbound.snapshot()})
}

func (r *Reconciler) endOutbound(reason string) Snapshot {
	r.outbound.Status = StatusEnded
	snap := r.outbound.snapshot()
	r.notify(Notification{Kind: KindOutboundEnded, Direction: DirectionOutbound, Call: snap, Outcome: OutcomeEnded, Reason: reason})
	r.armClearTimer(r.outbound.epoch)
	return snap
}

func (r *Reconciler) clearInbound() Snapshot {
	r.stopMissTimer()
	snap := r.inbound.snapshot()
	r.inbound = nil
	return snap
}

func (r *Reconciler) snapshotFor(dir Direction) (Snapshot, bool) {
	switch dir {
	case DirectionInbound:
		if r.inbound != nil {
			return r.inbound.snapshot(), true
		}
	case DirectionOutbound:
		if r.outbound != nil {
			return r.outbound.snapshot(), true
		}
	}
	return Snapshot{}, false
}

/* ===================== TIMERS ===================== */

func (r *Reconciler) armMissTimer(epoch uint64) {
	r.stopMissTimer()
	r.missTimer = r.after(r.missTimeout, func() { r.onMissTimeout(epoch) })
}

// onMissTimeout fires when a ringing inbound call saw no connect or end event
// within the miss window. The epoch guard keeps a stale timer from clearing a
// replacement call.
func (r *Reconciler) onMissTimeout(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inbound == nil || r.inbound.epoch != epoch || r.inbound.Status != StatusRinging {
		return
	}
	snap := r.clearInbound()
	r.notify(Notification{Kind: KindCallMissed, Direction: DirectionInbound, Call: snap, Outcome: OutcomeMissed, Reason: "timeout"})
	r.logTransition(context.Background(), "missed_timeout", snap)
}

func (r *Reconciler) armClearTimer(epoch uint64) {
	r.stopClearTimer()
	r.clearTimer = r.after(r.clearDelay, func() { r.onClearTimeout(epoch) })
}

func (r *Reconciler) onClearTimeout(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outbound == nil || r.outbound.epoch != epoch {
		return
	}
	snap := r.outbound.snapshot()
	r.outbound = nil
	r.notify(Notification{Kind: KindOutboundCleared, Direction: DirectionOutbound, Call: snap})
}

func (r *Reconciler) stopMissTimer() {
	if r.missTimer != nil {
		r.missTimer.Stop()
		r.missTimer = nil
	}
}

func (r *Reconciler) stopClearTimer() {
	if r.clearTimer != nil {
		r.clearTimer.Stop()
		r.clearTimer = nil
	}
}

/* ===================== OUTPUT ===================== */

func (r *Reconciler) notify(n Notification) {
	if r.obs != nil {
		r.obs.Notify(n)
	}
}

func (r *Reconciler) logTransition(ctx context.Context, status string, snap Snapshot) {
	if r.audit == nil {
		return
	}
	e := TransitionEntry{
		ReferenceID: snap.CallID,
		CLI:         r.op.VirtualNumber,
		Status:      status,
	}
	if snap.Direction == DirectionOutbound {
		e.AParty = r.op.AgentNumber
		e.BParty = snap.Counterparty
	} else {
		e.AParty = snap.Counterparty
		e.BParty = r.op.AgentNumber
	}
	if err := r.audit.LogTransition(ctx, e); err != nil {
		r.log.Warn("transition log failed", "status", status, "reference_id", e.ReferenceID, "err", err)
	}
}
