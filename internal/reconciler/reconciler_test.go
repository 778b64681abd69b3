package reconciler

import (
	"context"
	"testing"
	"time"

	"call-console/internal/event"
)

type stubObserver struct {
	ns []Notification
}

func (s *stubObserver) Notify(n Notification) { s.ns = append(s.ns, n) }

func (s *stubObserver) kinds() []NotificationKind {
	out := make([]NotificationKind, 0, len(s.ns))
	for _, n := range s.ns {
		out = append(out, n.Kind)
	}
	return out
}

type stubAudit struct {
	entries []TransitionEntry
}

func (s *stubAudit) LogTransition(ctx context.Context, e TransitionEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

// fakeTimers captures timer callbacks so tests fire them deterministically.
type fakeTimers struct {
	durations []time.Duration
	fns       []func()
}

func (f *fakeTimers) after(d time.Duration, fn func()) *time.Timer {
	f.durations = append(f.durations, d)
	f.fns = append(f.fns, fn)
	return time.NewTimer(time.Hour)
}

func (f *fakeTimers) fireLast() {
	if len(f.fns) > 0 {
		f.fns[len(f.fns)-1]()
	}
}

func newTestReconciler(op Operator) (*Reconciler, *stubObserver, *stubAudit, *fakeTimers) {
	obs := &stubObserver{}
	aud := &stubAudit{}
	ft := &fakeTimers{}
	r := New(op, obs, aud, nil)
	r.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	r.after = ft.after
	return r, obs, aud, ft
}

func adminOp() Operator {
	return Operator{UserID: "u1", WorkspaceID: "w1", AgentNumber: "9998887777", AgentID: "a-77", VirtualNumber: "1140001111", Administrator: true}
}

func agentOp() Operator {
	op := adminOp()
	op.Administrator = false
	return op
}

func incomingC1() event.Envelope {
	return event.Envelope{Type: event.TypeIncomingCall, Timestamp: "t1", Data: map[string]any{
		"CALL_ID":    "c1",
		"A_PARTY_NO": "9990001111",
		"EVENT_TYPE": "IVR_ROUTED",
	}}
}

func TestAdminBroadcastCreatesRingingInbound(t *testing.T) {
	r, obs, _, ft := newTestReconciler(adminOp())

	r.HandleEvent(context.Background(), incomingC1())

	snap, ok := r.InboundSnapshot()
	if !ok {
		t.Fatalf("expected tracked inbound call")
	}
	if snap.CallID != "c1" || snap.Status != StatusRinging || snap.Counterparty != "9990001111" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(obs.ns) != 1 || obs.ns[0].Kind != KindInboundRinging {
		t.Fatalf("expected one ringing notification, got %v", obs.kinds())
	}
	if len(ft.durations) != 1 || ft.durations[0] != defaultMissTimeout {
		t.Fatalf("expected 30s auto-miss timer, got %v", ft.durations)
	}
}

func TestNonAdminDropsUnassignedBroadcast(t *testing.T) {
	r, obs, _, _ := newTestReconciler(agentOp())
	op := r.op
	op.AgentNumber = "1112223333" // does not match the event
	op.AgentID = "other"
	r.op = op

	r.HandleEvent(context.Background(), incomingC1())

	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("expected broadcast dropped for non-admin")
	}
	if len(obs.ns) != 0 {
		t.Fatalf("expected no notifications, got %v", obs.kinds())
	}
}

func TestNonAdminAcceptsLineBroadcastByDestination(t *testing.T) {
	r, obs, _, _ := newTestReconciler(agentOp())

	// No agent assignment, but the call is addressed to the line's virtual
	// number, so every operator on the line rings.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID":    "c1",
		"A_PARTY_NO": "9990001111",
		"CALL_TO_NO": "1140001111",
	}})

	snap, ok := r.InboundSnapshot()
	if !ok || snap.CallID != "c1" || snap.Status != StatusRinging {
		t.Fatalf("expected line broadcast tracked, got %+v ok=%v", snap, ok)
	}
	if len(obs.ns) != 1 || obs.ns[0].Kind != KindInboundRinging {
		t.Fatalf("expected ringing notification, got %v", obs.kinds())
	}
}

func TestImplicitIDMatchUpdatesTrackedCall(t *testing.T) {
	r, obs, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	// Follow-up has no CALL_ID; c1 is the only tracked inbound call and the
	// agent number matches the operator.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"Agent_number": "9998887777",
	}})

	snap, ok := r.InboundSnapshot()
	if !ok || snap.CallID != "c1" {
		t.Fatalf("expected c1 still tracked, got %+v ok=%v", snap, ok)
	}
	last := obs.ns[len(obs.ns)-1]
	if last.Kind != KindCallUpdated {
		t.Fatalf("expected update, got %v", obs.kinds())
	}
}

func TestMissedCallClearsAndLogsMissed(t *testing.T) {
	r, obs, aud, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeMissedCall, Data: map[string]any{
		"A_PARTY_NO": "9990001111",
	}})

	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("expected tracked call cleared")
	}
	last := obs.ns[len(obs.ns)-1]
	if last.Kind != KindCallMissed || last.Outcome != OutcomeMissed {
		t.Fatalf("expected missed outcome, got %+v", last)
	}
	if len(aud.entries) != 1 || aud.entries[0].Status != "missed" {
		t.Fatalf("expected one missed log entry, got %+v", aud.entries)
	}
}

func TestMissedCallWinsOverConflictingConnectedField(t *testing.T) {
	r, obs, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeMissedCall, Data: map[string]any{
		"CALL_ID":     "c1",
		"CALL_STATUS": "Connected",
	}})

	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("missed_call must clear even with a conflicting connected field")
	}
	last := obs.ns[len(obs.ns)-1]
	if last.Kind != KindCallMissed {
		t.Fatalf("expected missed, got %v", obs.kinds())
	}
}

func TestMissedAfterConnectCountsAsEnded(t *testing.T) {
	r, obs, aud, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeCallStatusUpdate, Data: map[string]any{
		"CALL_ID":     "c1",
		"CALL_STATUS": "Connected",
	}})

	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeMissedCall, Data: map[string]any{
		"CALL_ID": "c1",
	}})

	last := obs.ns[len(obs.ns)-1]
	if last.Kind != KindCallEnded || last.Outcome != OutcomeEnded {
		t.Fatalf("connected call reported missed should end as success, got %+v", last)
	}
	if aud.entries[len(aud.entries)-1].Status != "ended" {
		t.Fatalf("expected ended log, got %+v", aud.entries)
	}
}

func TestDTMFSuppressesDisconnectShapedEvent(t *testing.T) {
	r, _, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	// Shares field shape with a disconnect, but DTMF input marks the call as
	// being routed through the IVR, not hung up.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeCallStatusUpdate, Data: map[string]any{
		"CALL_ID":         "c1",
		"DISCONNECTED_BY": "caller",
		"DTMF":            "4",
	}})

	if _, ok := r.InboundSnapshot(); !ok {
		t.Fatalf("DTMF event must not clear the tracked call")
	}
}

func TestEndSignalClearsAndBlocksRecreationFromStaleLog(t *testing.T) {
	r, _, aud, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeCallEnd, Data: map[string]any{
		"CALL_ID": "c1",
	}})
	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("expected cleared after call_end")
	}
	if aud.entries[len(aud.entries)-1].Status != "ended" {
		t.Fatalf("expected ended log")
	}

	// The provider replays the completed call as a log entry; the populated
	// end time marks it stale and it must not re-create the call.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID":    "c1",
		"A_PARTY_NO": "9990001111",
		"END_TIME":   "2026-01-02 10:04:05",
	}})
	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("stale call log must not re-create a tracked call")
	}
}

func TestConnectCancelsMissTimer(t *testing.T) {
	r, obs, aud, ft := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID":     "c1",
		"CALL_STATUS": "Connected",
	}})
	snap, _ := r.InboundSnapshot()
	if snap.Status != StatusConnected {
		t.Fatalf("expected connected, got %+v", snap)
	}
	if obs.ns[len(obs.ns)-1].Kind != KindInboundConnected {
		t.Fatalf("expected connected notification, got %v", obs.kinds())
	}

	// The armed timer firing later must be a no-op.
	ft.fireLast()
	if _, ok := r.InboundSnapshot(); !ok {
		t.Fatalf("stale miss timer cleared a connected call")
	}
	if len(aud.entries) != 0 {
		t.Fatalf("expected no transition logs, got %+v", aud.entries)
	}
}

func TestMissTimeoutClearsAndLogsExactlyOnce(t *testing.T) {
	r, obs, aud, ft := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	ft.fireLast()
	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("expected cleared after timeout")
	}
	last := obs.ns[len(obs.ns)-1]
	if last.Kind != KindCallMissed || last.Reason != "timeout" {
		t.Fatalf("expected timeout miss, got %+v", last)
	}
	if len(aud.entries) != 1 || aud.entries[0].Status != "missed_timeout" {
		t.Fatalf("expected exactly one missed_timeout entry, got %+v", aud.entries)
	}

	// Firing again must not log a second entry.
	ft.fireLast()
	if len(aud.entries) != 1 {
		t.Fatalf("timer re-fire must be a no-op, got %+v", aud.entries)
	}
}

func TestReassignmentToOtherAgentClearsTrackedCall(t *testing.T) {
	r, obs, _, _ := newTestReconciler(agentOp())
	// Direct assignment to this operator.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID":      "c1",
		"A_PARTY_NO":   "9990001111",
		"Agent_number": "9998887777",
	}})
	if _, ok := r.InboundSnapshot(); !ok {
		t.Fatalf("expected tracked call")
	}

	// Same call handed to a different agent.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID":      "c1",
		"Agent_number": "5550006666",
		"CALL_TO_NO":   "5550006666",
	}})
	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("expected reassigned call cleared")
	}
	last := obs.ns[len(obs.ns)-1]
	if last.Kind != KindCallEnded || last.Reason != "reassigned" {
		t.Fatalf("expected reassigned clear, got %+v", last)
	}
}

func TestReassignmentIgnoredForConnectUpdateWithoutDestination(t *testing.T) {
	r, _, _, _ := newTestReconciler(agentOp())
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID":      "c1",
		"Agent_number": "9998887777",
	}})

	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID":      "c1",
		"Agent_number": "5550006666",
		"CALL_STATUS":  "Connected",
	}})
	if _, ok := r.InboundSnapshot(); !ok {
		t.Fatalf("connect update lacking destination must not clear the call")
	}
}

func TestOutboundLifecycle(t *testing.T) {
	r, obs, _, ft := newTestReconciler(agentOp())

	r.StartOutbound(context.Background(), "o1", "+911234567890")
	snap, ok := r.OutboundSnapshot()
	if !ok || snap.Status != StatusRinging || snap.Counterparty != "+911234567890" {
		t.Fatalf("unexpected outbound snapshot: %+v", snap)
	}

	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeOutgoingEvent, Data: map[string]any{
		"CALL_ID":       "o1",
		"B_DIAL_STATUS": "Connected",
	}})
	snap, _ = r.OutboundSnapshot()
	if snap.Status != StatusConnected {
		t.Fatalf("expected connected after b-party signal, got %+v", snap)
	}

	r.OnActionResult(context.Background(), ActionResult{Action: ActionDisconnect, Direction: DirectionOutbound, CallID: "o1", GatewayStatus: 1})
	snap, _ = r.OutboundSnapshot()
	if snap.Status != StatusEnded {
		t.Fatalf("expected ended after disconnect, got %+v", snap)
	}
	if ft.durations[len(ft.durations)-1] != defaultClearDelay {
		t.Fatalf("expected 2s auto-clear timer, got %v", ft.durations)
	}

	ft.fireLast()
	if _, ok := r.OutboundSnapshot(); ok {
		t.Fatalf("expected outbound cleared after delay")
	}
	if obs.ns[len(obs.ns)-1].Kind != KindOutboundCleared {
		t.Fatalf("expected cleared notification, got %v", obs.kinds())
	}
}

func TestGatewayAlreadyEndedClearsLikeTermination(t *testing.T) {
	r, obs, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	r.OnActionResult(context.Background(), ActionResult{Action: ActionAccept, Direction: DirectionInbound, CallID: "c1", GatewayStatus: 2})

	if _, ok := r.InboundSnapshot(); ok {
		t.Fatalf("gateway status 2 must clear tracked state")
	}
	last := obs.ns[len(obs.ns)-1]
	if last.Kind != KindCallEnded || last.Reason != "remote_ended" {
		t.Fatalf("expected remote_ended clear, got %+v", last)
	}
}

func TestGatewayFailureLeavesStateUntouched(t *testing.T) {
	r, _, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	r.OnActionResult(context.Background(), ActionResult{Action: ActionAccept, Direction: DirectionInbound, CallID: "c1", GatewayStatus: 0})

	snap, ok := r.InboundSnapshot()
	if !ok || snap.Status != StatusRinging {
		t.Fatalf("failed action must not mutate state, got %+v ok=%v", snap, ok)
	}
}

func TestAcceptResultConnectsInbound(t *testing.T) {
	r, _, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	r.OnActionResult(context.Background(), ActionResult{Action: ActionAccept, Direction: DirectionInbound, CallID: "c1", GatewayStatus: 1})
	snap, _ := r.InboundSnapshot()
	if snap.Status != StatusConnected {
		t.Fatalf("expected connected after accept, got %+v", snap)
	}
}

func TestCounterpartyPersistsAcrossPartialUpdates(t *testing.T) {
	r, _, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	// Partial update without any number field.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeIncomingCall, Data: map[string]any{
		"CALL_ID": "c1",
	}})
	snap, _ := r.InboundSnapshot()
	if snap.Counterparty != "9990001111" {
		t.Fatalf("counterparty lost on partial update: %+v", snap)
	}
}

func TestTerminationCheckedBeforeOrigination(t *testing.T) {
	r, _, _, _ := newTestReconciler(adminOp())
	r.HandleEvent(context.Background(), incomingC1())

	// call_status_update looks a lot like an origination payload but belongs
	// to the termination class; it must not create or replace a call.
	r.HandleEvent(context.Background(), event.Envelope{Type: event.TypeCallStatusUpdate, Data: map[string]any{
		"CALL_ID":    "c9",
		"A_PARTY_NO": "1231231234",
	}})
	snap, ok := r.InboundSnapshot()
	if !ok || snap.CallID != "c1" {
		t.Fatalf("termination-class event must not replace tracked call: %+v", snap)
	}
}
