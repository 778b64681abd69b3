package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"call-console/internal/event"
)

type collectSink struct {
	mu   sync.Mutex
	envs []event.Envelope
}

func (s *collectSink) HandleEvent(ctx context.Context, env event.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func TestClientForwardsEnvelopesAndDropsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprintln(w, `data: {"type":"incoming_call","data":{"CALL_ID":"c1"}}`)
		fmt.Fprintln(w, `{not json at all`)
		fmt.Fprintln(w, `{"type":"call_end","data":{"CALL_ID":"c1"}}`)
		fl.Flush()
	}))
	defer srv.Close()

	sink := &collectSink{}
	c := New(Config{URL: srv.URL, MaxAttempts: 1, BackoffBase: time.Millisecond}, sink, nil)

	err := c.Run(context.Background())
	if err != ErrReconnectExhausted {
		t.Fatalf("expected exhaustion after server close, got %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("expected 2 envelopes (malformed dropped), got %d", sink.count())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.envs[0].Type != event.TypeIncomingCall || sink.envs[1].Type != event.TypeCallEnd {
		t.Fatalf("unexpected envelopes: %+v", sink.envs)
	}
}

func TestClientSurfacesPersistentNotificationOnExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var downMsg string
	c := New(Config{URL: srv.URL, MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}, &collectSink{}, nil)
	c.OnDown = func(reason string) { downMsg = reason }

	if err := c.Run(context.Background()); err != ErrReconnectExhausted {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	if downMsg == "" {
		t.Fatalf("expected operator-facing down notification")
	}
}

func TestClientStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, &collectSink{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not stop on cancel")
	}
}

func TestClientForcesReconnectAfterSilence(t *testing.T) {
	// Each connection delivers one event and then goes silent while staying
	// open; only the silence check can break it.
	var mu sync.Mutex
	conns := 0
	second := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		if conns == 2 {
			close(second)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"type":"incoming_call","data":{"CALL_ID":"c1"}}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	// MaxAttempts of 1 means any disconnect billed to the backoff counter
	// would exhaust immediately; only a forced reconnect keeps the loop going.
	c := New(Config{
		URL:              srv.URL,
		BackoffBase:      time.Millisecond,
		MaxAttempts:      1,
		HealthInterval:   10 * time.Millisecond,
		SilenceThreshold: 25 * time.Millisecond,
	}, &collectSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-second:
	case err := <-done:
		t.Fatalf("run stopped instead of reconnecting: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("silence never forced a reconnect")
	}
	if got := c.Status().Attempts; got != 0 {
		t.Fatalf("forced reconnect must not spend the retry budget, attempts=%d", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not stop on cancel")
	}
}

func TestStatusReflectsConnectionState(t *testing.T) {
	c := New(Config{URL: "http://localhost:0"}, &collectSink{}, nil)
	st := c.Status()
	if st.Connected || st.Attempts != 0 {
		t.Fatalf("unexpected initial status: %+v", st)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	c := New(Config{URL: "x", BackoffBase: time.Second, BackoffCap: 30 * time.Second}, nil, nil)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second}, // over cap
	}
	for _, tc := range cases {
		got := c.backoff(tc.attempt)
		want := tc.want
		if want > 30*time.Second {
			want = 30 * time.Second
		}
		if got != want {
			t.Fatalf("backoff(%d) = %v, want %v", tc.attempt, got, want)
		}
	}
}
