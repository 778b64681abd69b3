package console

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"call-console/internal/contacts"
	"call-console/internal/reconciler"
)

// Card is the operator-facing view of one live call.
type Card struct {
	CallID      string                 `json:"call_id"`
	Number      string                 `json:"number"`
	ContactName string                 `json:"contact_name,omitempty"`
	Direction   reconciler.Direction   `json:"direction"`
	Status      reconciler.Status      `json:"status"`
	Outcome     reconciler.Outcome     `json:"outcome,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
}

// Notice is a persistent operator message, e.g. the stream-down banner.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Update is one frame pushed to dashboard subscribers.
type Update struct {
	Kind   string    `json:"kind"`
	Card   *Card     `json:"card,omitempty"`
	Notice *Notice   `json:"notice,omitempty"`
	At     time.Time `json:"at"`
}

const (
	UpdateKindSystemNotice    = "system_notice"
	UpdateKindContactResolved = "contact_resolved"
)

// ContactResolver resolves a phone number to a display name.
// *contacts.Client satisfies it.
type ContactResolver interface {
	Lookup(ctx context.Context, phone string) (string, error)
}

// Hub fans live call state out to dashboard subscribers.
//
// Invariants:
// - Notify never blocks: slow subscribers lose frames, they are never waited on.
// - Contact enrichment is asynchronous and best-effort; a card is shown with
//   the bare number until (and unless) the directory answers.
type Hub struct {
	resolver ContactResolver
	log      *slog.Logger
	clock    func() time.Time

	mu       sync.Mutex
	inbound  *Card
	outbound *Card
	notices  []Notice
	subs     map[string]chan Update
	nextSub  int
}

// View is the full dashboard state for a freshly connected client.
type View struct {
	Inbound  *Card    `json:"inbound,omitempty"`
	Outbound *Card    `json:"outbound,omitempty"`
	Notices  []Notice `json:"notices,omitempty"`
}

func NewHub(resolver ContactResolver, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		resolver: resolver,
		log:      log,
		clock:    time.Now,
		subs:     make(map[string]chan Update),
	}
}

// Notify implements reconciler.Observer.
func (h *Hub) Notify(n reconciler.Notification) {
	h.mu.Lock()

	card := &Card{
		CallID:    n.Call.CallID,
		Number:    n.Call.Counterparty,
		Direction: n.Call.Direction,
		Status:    n.Call.Status,
		Outcome:   n.Outcome,
		StartedAt: n.Call.StartedAt,
	}

	switch n.Kind {
	case reconciler.KindInboundRinging:
		h.inbound = card
	case reconciler.KindInboundConnected:
		h.inbound = h.merge(h.inbound, card)
	case reconciler.KindCallUpdated:
		if n.Direction == reconciler.DirectionInbound {
			h.inbound = h.merge(h.inbound, card)
		} else {
			h.outbound = h.merge(h.outbound, card)
		}
	case reconciler.KindCallEnded, reconciler.KindCallMissed:
		h.inbound = nil
	case reconciler.KindOutboundRinging:
		h.outbound = card
	case reconciler.KindOutboundConnected, reconciler.KindOutboundEnded:
		h.outbound = h.merge(h.outbound, card)
	case reconciler.KindOutboundCleared:
		h.outbound = nil
	}

	h.broadcastLocked(Update{Kind: string(n.Kind), Card: card, At: h.clock()})
	h.mu.Unlock()

	if n.Kind == reconciler.KindInboundRinging {
		go h.enrich(n.Call.CallID, n.Call.Counterparty)
	}
}

// merge keeps an already-resolved contact name across status updates.
func (h *Hub) merge(prev, next *Card) *Card {
	if prev != nil && prev.CallID == next.CallID && prev.ContactName != "" {
		next.ContactName = prev.ContactName
	}
	return next
}

// enrich resolves the caller's name and, if the card is still the same call,
// attaches it and pushes a refresh.
func (h *Hub) enrich(callID, number string) {
	if h.resolver == nil || number == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	name, err := h.resolver.Lookup(ctx, number)
	if err != nil {
		if !errors.Is(err, contacts.ErrNotFound) {
			h.log.Warn("contact lookup failed", "number", number, "err", err)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inbound == nil || h.inbound.CallID != callID {
		return
	}
	h.inbound.ContactName = name
	copied := *h.inbound
	h.broadcastLocked(Update{Kind: UpdateKindContactResolved, Card: &copied, At: h.clock()})
}

// PublishSystem posts a persistent operator notice.
func (h *Hub) PublishSystem(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	notice := Notice{Message: message, At: h.clock()}
	h.notices = append(h.notices, notice)
	h.broadcastLocked(Update{Kind: UpdateKindSystemNotice, Notice: &notice, At: notice.At})
}

// Snapshot returns the current dashboard state.
func (h *Hub) Snapshot() View {
	h.mu.Lock()
	defer h.mu.Unlock()

	var v View
	if h.inbound != nil {
		c := *h.inbound
		v.Inbound = &c
	}
	if h.outbound != nil {
		c := *h.outbound
		v.Outbound = &c
	}
	v.Notices = append([]Notice(nil), h.notices...)
	return v
}

// Subscribe registers a dashboard client. The returned id releases the
// subscription via Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := "sub-" + strconv.Itoa(h.nextSub)
	ch := make(chan Update, 16)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) broadcastLocked(u Update) {
	for id, ch := range h.subs {
		select {
		case ch <- u:
		default:
			// Slow consumer: drop the frame. The client recovers from the
			// snapshot endpoint.
			h.log.Debug("dashboard frame dropped", "sub", id, "kind", u.Kind)
		}
	}
}

var _ reconciler.Observer = (*Hub)(nil)
