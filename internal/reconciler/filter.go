package reconciler

import "call-console/internal/event"

// ownershipAccepts decides whether an inbound event is addressed to this
// operator. The rules are empirical, inferred from provider behavior; the
// provider documents no addressing contract.
//
// Accepted when any of the following hold:
//   - the operator is an administrator and the event carries no agent number
//     and no agent id (an unassigned broadcast)
//   - the event's agent number or agent id matches the operator's own
//   - the destination number is the operator's own number (direct dial)
//   - no agent is specified and the destination is the active virtual number
//     (broadcast to the line)
//   - the event references the call already tracked for this operator and
//     names no other agent (implicit continuation); an update that assigns
//     the tracked call to a different agent fails the filter so the caller
//     can treat it as a reassignment
func (r *Reconciler) ownershipAccepts(ev event.Event) bool {
	unassigned := ev.AgentNumber == "" && ev.AgentID == ""

	if r.op.Administrator && unassigned {
		return true
	}
	if ev.AgentNumber != "" && ev.AgentNumber == r.op.AgentNumber {
		return true
	}
	if ev.AgentID != "" && ev.AgentID == r.op.AgentID {
		return true
	}
	if ev.Destination != "" && ev.Destination == r.op.AgentNumber {
		return true
	}
	if unassigned && ev.Destination != "" && ev.Destination == r.op.VirtualNumber {
		return true
	}
	if unassigned && r.inbound != nil && ev.CallID != "" && ev.CallID == r.inbound.CallID {
		return true
	}
	return false
}
