package console

import (
	"context"
	"testing"
	"time"

	"call-console/internal/contacts"
	"call-console/internal/reconciler"
)

type stubResolver struct {
	name string
	err  error
	done chan struct{}
}

func (r *stubResolver) Lookup(ctx context.Context, phone string) (string, error) {
	if r.done != nil {
		defer close(r.done)
	}
	return r.name, r.err
}

func ringingNotification() reconciler.Notification {
	return reconciler.Notification{
		Kind:      reconciler.KindInboundRinging,
		Direction: reconciler.DirectionInbound,
		Call: reconciler.Snapshot{
			CallID:       "c1",
			Counterparty: "9990001111",
			Direction:    reconciler.DirectionInbound,
			Status:       reconciler.StatusRinging,
		},
	}
}

func TestHubShowsInboundCardThenEnrichesName(t *testing.T) {
	resolver := &stubResolver{name: "Asha Verma", done: make(chan struct{})}
	h := NewHub(resolver, nil)

	h.Notify(ringingNotification())

	v := h.Snapshot()
	if v.Inbound == nil || v.Inbound.Number != "9990001111" {
		t.Fatalf("expected inbound card immediately: %+v", v)
	}

	select {
	case <-resolver.done:
	case <-time.After(time.Second):
		t.Fatalf("resolver never called")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if name := h.Snapshot().Inbound.ContactName; name == "Asha Verma" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("contact name never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubKeepsNameAcrossStatusUpdates(t *testing.T) {
	h := NewHub(nil, nil)
	h.Notify(ringingNotification())

	h.mu.Lock()
	h.inbound.ContactName = "Asha Verma"
	h.mu.Unlock()

	n := ringingNotification()
	n.Kind = reconciler.KindInboundConnected
	n.Call.Status = reconciler.StatusConnected
	h.Notify(n)

	v := h.Snapshot()
	if v.Inbound.Status != reconciler.StatusConnected || v.Inbound.ContactName != "Asha Verma" {
		t.Fatalf("expected connected card with name kept: %+v", v.Inbound)
	}
}

func TestHubUnknownContactLeavesBareNumber(t *testing.T) {
	resolver := &stubResolver{err: contacts.ErrNotFound, done: make(chan struct{})}
	h := NewHub(resolver, nil)
	h.Notify(ringingNotification())

	<-resolver.done
	time.Sleep(10 * time.Millisecond)

	v := h.Snapshot()
	if v.Inbound == nil || v.Inbound.ContactName != "" || v.Inbound.Number != "9990001111" {
		t.Fatalf("expected bare number card: %+v", v.Inbound)
	}
}

func TestHubClearsCardsOnTerminalKinds(t *testing.T) {
	h := NewHub(nil, nil)
	h.Notify(ringingNotification())

	end := ringingNotification()
	end.Kind = reconciler.KindCallMissed
	end.Outcome = reconciler.OutcomeMissed
	h.Notify(end)

	if v := h.Snapshot(); v.Inbound != nil {
		t.Fatalf("expected inbound card cleared: %+v", v.Inbound)
	}

	h.Notify(reconciler.Notification{
		Kind:      reconciler.KindOutboundRinging,
		Direction: reconciler.DirectionOutbound,
		Call:      reconciler.Snapshot{CallID: "o1", Counterparty: "8887776666", Direction: reconciler.DirectionOutbound, Status: reconciler.StatusRinging},
	})
	h.Notify(reconciler.Notification{
		Kind:      reconciler.KindOutboundCleared,
		Direction: reconciler.DirectionOutbound,
		Call:      reconciler.Snapshot{CallID: "o1"},
	})
	if v := h.Snapshot(); v.Outbound != nil {
		t.Fatalf("expected outbound card cleared: %+v", v.Outbound)
	}
}

func TestHubSubscribersReceiveFramesAndSlowOnesDrop(t *testing.T) {
	h := NewHub(nil, nil)
	id, ch := h.Subscribe()
	defer h.Unsubscribe(id)

	h.Notify(ringingNotification())

	select {
	case u := <-ch:
		if u.Kind != string(reconciler.KindInboundRinging) || u.Card == nil {
			t.Fatalf("unexpected frame: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("no frame delivered")
	}

	// Fill the buffer past capacity; Notify must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 40; i++ {
			h.PublishSystem("notice")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on slow subscriber")
	}
}

func TestHubSystemNoticePersistsInSnapshot(t *testing.T) {
	h := NewHub(nil, nil)
	h.PublishSystem("call event stream unavailable; refresh to retry")

	v := h.Snapshot()
	if len(v.Notices) != 1 || v.Notices[0].Message == "" {
		t.Fatalf("expected persistent notice: %+v", v.Notices)
	}
}
