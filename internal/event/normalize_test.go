package event

import "testing"

func TestNormalize_CallIDCandidateOrder(t *testing.T) {
	env := Envelope{Type: TypeIncomingCall, Data: map[string]any{
		"call_id": "lower",
		"CALL_ID": "upper",
		"uuid":    "uuid-1",
	}}
	ev := Normalize(env)
	if ev.CallID != "upper" {
		t.Fatalf("expected CALL_ID to win, got %q", ev.CallID)
	}
}

func TestNormalize_FallsBackToOriginalPayload(t *testing.T) {
	env := Envelope{Type: TypeCallEnd, Data: map[string]any{
		"original_payload": map[string]any{
			"CallSid":    "cs-9",
			"A_PARTY_NO": "9990001111",
		},
	}}
	ev := Normalize(env)
	if ev.CallID != "cs-9" {
		t.Fatalf("expected nested CallSid, got %q", ev.CallID)
	}
	if ev.AParty != "9990001111" {
		t.Fatalf("expected nested a-party, got %q", ev.AParty)
	}
}

func TestNormalize_NumericCallID(t *testing.T) {
	env := Envelope{Type: TypeCallEnd, Data: map[string]any{"call_id": float64(12345)}}
	if got := Normalize(env).CallID; got != "12345" {
		t.Fatalf("expected numeric id as string, got %q", got)
	}
}

func TestHasEndTime_PlaceholderRules(t *testing.T) {
	cases := []struct {
		endTime string
		want    bool
	}{
		{"", false},
		{"0", false},
		{"00000", false}, // too short to be a real timestamp
		{"2026-01-02 10:04:05", true},
		{"1767349445", true},
	}
	for _, tc := range cases {
		ev := Event{EndTime: tc.endTime}
		if got := ev.HasEndTime(); got != tc.want {
			t.Fatalf("HasEndTime(%q) = %v, want %v", tc.endTime, got, tc.want)
		}
	}
}

func TestEndSignal_Disjunction(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want bool
	}{
		{"explicit end type", Event{Type: TypeHangup}, true},
		{"end time only", Event{Type: TypeCallStatusUpdate, EndTime: "2026-01-02 10:04:05"}, true},
		{"b-party disconnected", Event{Type: TypeCallStatusUpdate, BDialStatus: "Disconnected"}, true},
		{"disconnect initiator", Event{Type: TypeCallStatusUpdate, DisconnectedBy: "agent"}, true},
		{"placeholder initiator", Event{Type: TypeCallStatusUpdate, DisconnectedBy: "0"}, false},
		{"release reason without end time", Event{Type: TypeCallStatusUpdate, ReleaseReason: "NORMAL_CLEARING"}, false},
		{"release reason with end time", Event{Type: TypeCallStatusUpdate, ReleaseReason: "NORMAL_CLEARING", EndTime: "2026-01-02 10:04:05"}, true},
		{"no signal", Event{Type: TypeCallStatusUpdate, Status: "Ringing"}, false},
	}
	for _, tc := range cases {
		if got := tc.ev.EndSignal(); got != tc.want {
			t.Fatalf("%s: EndSignal() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSuppressDisconnect_Triggers(t *testing.T) {
	if !(Event{DTMF: "4"}).SuppressDisconnect() {
		t.Fatalf("DTMF input must suppress disconnect")
	}
	if !(Event{Status: "Connected"}).SuppressDisconnect() {
		t.Fatalf("explicit Connected status must suppress disconnect")
	}
	if !(Event{EventType: "IVR_ROUTED"}).SuppressDisconnect() {
		t.Fatalf("IVR routing flag must suppress disconnect")
	}
	if (Event{Status: "Disconnected"}).SuppressDisconnect() {
		t.Fatalf("plain disconnect must not be suppressed")
	}
}

func TestIsTerminationClass_CoversAllListedTypes(t *testing.T) {
	for _, typ := range []string{
		TypeCallEnd, TypeCallEnded, TypeHangup, TypeCallDisconnected,
		TypeCallTerminated, TypeDisconnect, TypeMissedCall, TypeIVRMissedCall,
		TypeAnsweredCall, TypeCallStatusUpdate, TypeOutgoingEvent,
	} {
		if !(Event{Type: typ}).IsTerminationClass() {
			t.Fatalf("expected %q in termination class", typ)
		}
	}
	if (Event{Type: TypeIncomingCall}).IsTerminationClass() {
		t.Fatalf("incoming_call must not be termination class")
	}
}

func TestParseLine(t *testing.T) {
	env, err := ParseLine([]byte(`{"type":"incoming_call","timestamp":"t1","data":{"CALL_ID":"c1"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != TypeIncomingCall {
		t.Fatalf("unexpected type %q", env.Type)
	}
	if _, err := ParseLine([]byte("{not json")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseLine([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("expected missing-type error")
	}
}
