package event

import (
	"strconv"
	"strings"
)

// Event is the normalized form of an Envelope.
//
// Every field below may legitimately be empty: the provider spreads the same
// logical value across differently named keys depending on which of its code
// paths emitted the webhook, and omits most of them on relay/terminal events.
// Resolution is ordered (first non-empty candidate wins) and checks the nested
// original payload after the top-level bag.
//
// Raw keeps the original bag for diagnostics and matching only; business logic
// must use the resolved fields.
type Event struct {
	Type      string
	Timestamp string

	CallID      string
	AParty      string
	BParty      string
	Destination string

	AgentNumber string
	AgentID     string

	Status      string
	ADialStatus string
	BDialStatus string

	EndTime        string
	DisconnectedBy string
	ReleaseReason  string

	DTMF      string
	EventType string

	Raw map[string]any
}

// Candidate key lists, in resolution order. These are empirical: the provider
// publishes no event contract, so the lists grow as new shapes are observed.
var (
	callIDKeys      = []string{"CALL_ID", "call_id", "CallSid", "call_sid", "uuid", "callid"}
	aPartyKeys      = []string{"A_PARTY_NO", "a_party_no", "CALLER_ID_NUMBER", "caller_number", "from"}
	bPartyKeys      = []string{"B_PARTY_NO", "b_party_no", "destination_number", "to"}
	destinationKeys = []string{"CALL_TO_NO", "call_to_no", "dialed_number", "destination"}
	agentNumberKeys = []string{"Agent_number", "AGENT_NUMBER", "agent_number"}
	agentIDKeys     = []string{"Agent_id", "AGENT_ID", "agent_id"}
	statusKeys      = []string{"CALL_STATUS", "call_status", "Status", "status"}
	aDialKeys       = []string{"A_DIAL_STATUS", "a_dial_status"}
	bDialKeys       = []string{"B_DIAL_STATUS", "b_dial_status", "DIAL_CALL_STATUS", "dial_call_status"}
	endTimeKeys     = []string{"END_TIME", "end_time", "CALL_END_TIME", "hangup_time"}
	disconnectByKeys = []string{"DISCONNECTED_BY", "disconnected_by"}
	releaseKeys     = []string{"RELEASE_REASON", "release_reason", "REASON"}
	dtmfKeys        = []string{"DTMF", "dtmf", "DTMF_INPUT", "dtmf_input"}
	eventTypeKeys   = []string{"EVENT_TYPE", "event_type"}

	originalPayloadKeys = []string{"original_payload", "ORIGINAL_PAYLOAD", "originalPayload"}
)

// Normalize resolves an Envelope's untyped bag into an Event.
// It never fails; unresolvable fields stay empty and the reconciler decides
// what that means for the tracked call.
func Normalize(env Envelope) Event {
	bags := []map[string]any{env.Data}
	for _, k := range originalPayloadKeys {
		if nested, ok := env.Data[k].(map[string]any); ok {
			bags = append(bags, nested)
			break
		}
	}

	resolve := func(keys []string) string {
		for _, bag := range bags {
			for _, k := range keys {
				if s := stringField(bag, k); s != "" {
					return s
				}
			}
		}
		return ""
	}

	return Event{
		Type:           env.Type,
		Timestamp:      env.Timestamp,
		CallID:         resolve(callIDKeys),
		AParty:         resolve(aPartyKeys),
		BParty:         resolve(bPartyKeys),
		Destination:    resolve(destinationKeys),
		AgentNumber:    resolve(agentNumberKeys),
		AgentID:        resolve(agentIDKeys),
		Status:         resolve(statusKeys),
		ADialStatus:    resolve(aDialKeys),
		BDialStatus:    resolve(bDialKeys),
		EndTime:        resolve(endTimeKeys),
		DisconnectedBy: resolve(disconnectByKeys),
		ReleaseReason:  resolve(releaseKeys),
		DTMF:           resolve(dtmfKeys),
		EventType:      resolve(eventTypeKeys),
		Raw:            env.Data,
	}
}

func stringField(bag map[string]any, key string) string {
	v, ok := bag[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		// JSON numbers; call ids occasionally arrive numeric.
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

var terminationTypes = map[string]struct{}{
	TypeCallEnd:          {},
	TypeCallEnded:        {},
	TypeHangup:           {},
	TypeCallDisconnected: {},
	TypeCallTerminated:   {},
	TypeDisconnect:       {},
	TypeMissedCall:       {},
	TypeIVRMissedCall:    {},
	TypeAnsweredCall:     {},
	TypeCallStatusUpdate: {},
	TypeOutgoingEvent:    {},
}

var endTypes = map[string]struct{}{
	TypeCallEnd:          {},
	TypeCallEnded:        {},
	TypeHangup:           {},
	TypeCallDisconnected: {},
	TypeCallTerminated:   {},
	TypeDisconnect:       {},
}

// IsTerminationClass reports whether the event type belongs to the
// termination class. These are checked before origination because they are
// structurally similar to new-call events and would otherwise be misread.
func (e Event) IsTerminationClass() bool {
	_, ok := terminationTypes[e.Type]
	return ok
}

// IsMissedType reports the missed-call sub-class. A missed event clears the
// tracked call even when the same payload carries a conflicting connected
// status; the provider is known to send both in one envelope.
func (e Event) IsMissedType() bool {
	return e.Type == TypeMissedCall || e.Type == TypeIVRMissedCall
}

// HasEndTime reports a populated end-time field. The provider pads absent end
// times with "0" or short placeholder strings, hence the length cut-off.
func (e Event) HasEndTime() bool {
	s := strings.TrimSpace(e.EndTime)
	return s != "" && s != "0" && len(s) > 5
}

func isPlaceholder(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "0", "-", "na", "n/a", "null", "none":
		return true
	}
	return false
}

// EndSignal reports whether the event carries any signal that the call has
// ended. No single field is authoritative; any one of the disjuncts suffices.
func (e Event) EndSignal() bool {
	if _, ok := endTypes[e.Type]; ok {
		return true
	}
	if e.HasEndTime() {
		return true
	}
	if containsFold(e.Status, "disconnect") ||
		containsFold(e.ADialStatus, "disconnect") ||
		containsFold(e.BDialStatus, "disconnect") {
		return true
	}
	if !isPlaceholder(e.DisconnectedBy) {
		return true
	}
	if !isPlaceholder(e.ReleaseReason) && e.HasEndTime() {
		return true
	}
	return false
}

// ConnectedStatus reports an explicit connected/answered status field.
func (e Event) ConnectedStatus() bool {
	return containsFold(e.Status, "connected") || containsFold(e.Status, "answered")
}

// BPartyConnected reports a destination-side connect signal. Only meaningful
// for outbound calls, where the B party is the dialed customer.
func (e Event) BPartyConnected() bool {
	return containsFold(e.BDialStatus, "connected") || containsFold(e.BDialStatus, "answered")
}

// IsAnsweredType reports the generic answered event, which carries no
// party-specific field to disambiguate which leg answered.
func (e Event) IsAnsweredType() bool {
	return e.Type == TypeAnsweredCall
}

// SuppressDisconnect reports that disconnect-looking signals in this event
// must not clear tracked state. IVR hand-off and DTMF routing events share
// field shapes with genuine disconnects; DTMF input, an explicit connected
// status, or an IVR-routing flag mark the call as still live.
func (e Event) SuppressDisconnect() bool {
	if strings.TrimSpace(e.DTMF) != "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(e.Status), "connected") {
		return true
	}
	if containsFold(e.EventType, "ivr") {
		return true
	}
	return false
}

// IsStaleLog reports that an origination-shaped event is actually the call log
// of an already-completed call, which must not create a tracked call.
func (e Event) IsStaleLog() bool {
	return e.HasEndTime()
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
