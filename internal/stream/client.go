package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"call-console/internal/event"
)

// Sink receives every successfully parsed envelope, in arrival order.
// The client never interprets event semantics; that is the reconciler's job.
type Sink interface {
	HandleEvent(ctx context.Context, env event.Envelope)
}

// Status is a point-in-time view of the connection for the status endpoint.
type Status struct {
	Connected   bool      `json:"connected"`
	Attempts    int       `json:"attempts"`
	LastEventAt time.Time `json:"last_event_at"`
}

// Config controls the relay connection. Zero values get safe defaults.
type Config struct {
	URL string

	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int

	// HealthInterval is how often silence is checked; SilenceThreshold is how
	// long without a message before the socket is considered dead even if it
	// still reports open.
	HealthInterval   time.Duration
	SilenceThreshold time.Duration

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	out := c
	if out.BackoffBase <= 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 30 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 10
	}
	if out.HealthInterval <= 0 {
		out.HealthInterval = 20 * time.Second
	}
	if out.SilenceThreshold <= 0 {
		out.SilenceThreshold = 45 * time.Second
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{}
	}
	return out
}

// ErrReconnectExhausted is returned by Run once every reconnect attempt has
// been spent. The operator-facing notification is delivered via OnDown first.
var ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")

// Client maintains one persistent connection to the relay and forwards parsed
// envelopes to the sink. Transport errors are retried with exponential
// backoff; a malformed message is dropped without touching the connection.
type Client struct {
	cfg  Config
	sink Sink
	log  *slog.Logger

	// OnDown, when set, is invoked once reconnect attempts are exhausted so
	// the console can surface a persistent operator notification.
	OnDown func(reason string)

	mu          sync.Mutex
	connected   bool
	attempts    int
	lastEventAt time.Time
}

func New(cfg Config, sink Sink, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg.withDefaults(), sink: sink, log: log}
}

// Status reports the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Connected: c.connected, Attempts: c.attempts, LastEventAt: c.lastEventAt}
}

// Run connects and reads until ctx is cancelled or reconnects are exhausted.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("stream: relay url is required")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		forced, err := c.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if forced {
			// Health check killed a silent socket; this is not a failure of
			// the relay, so the backoff counter resets.
			c.setAttempts(0)
			continue
		}

		attempts := c.bumpAttempts()
		if attempts >= c.cfg.MaxAttempts {
			c.log.Error("relay reconnect attempts exhausted", "attempts", attempts, "err", err)
			if c.OnDown != nil {
				c.OnDown("call event stream unavailable; refresh to retry")
			}
			return ErrReconnectExhausted
		}

		delay := c.backoff(attempts)
		c.log.Warn("relay disconnected; reconnecting", "attempt", attempts, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// stream holds one connection open and pumps messages. It returns
// forced=true when the silence health check cut the connection.
func (c *Client) stream(ctx context.Context) (forced bool, err error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream: relay returned %d", resp.StatusCode)
	}

	c.setConnected(true)
	defer c.setConnected(false)
	c.touch()

	// Guard against sockets that report open but stop delivering.
	var forcedMu sync.Mutex
	go func() {
		ticker := time.NewTicker(c.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				silent := time.Since(c.lastEventAt) > c.cfg.SilenceThreshold
				c.mu.Unlock()
				if silent {
					c.log.Warn("relay silent past threshold; forcing reconnect", "threshold", c.cfg.SilenceThreshold)
					forcedMu.Lock()
					forced = true
					forcedMu.Unlock()
					cancel()
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		// Relay frames are JSON lines, optionally with an SSE data prefix.
		if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		line = strings.TrimPrefix(line, "data:")

		env, perr := event.ParseLine([]byte(line))
		if perr != nil {
			// A malformed message is dropped; the connection is unaffected.
			c.log.Warn("malformed relay message dropped", "err", perr)
			continue
		}

		c.touch()
		c.setAttempts(0)
		c.sink.HandleEvent(ctx, env)
	}

	forcedMu.Lock()
	defer forcedMu.Unlock()
	if forced {
		return true, nil
	}
	if serr := scanner.Err(); serr != nil {
		return false, serr
	}
	return false, errors.New("stream: relay closed connection")
}

func (c *Client) backoff(attempts int) time.Duration {
	d := c.cfg.BackoffBase << (attempts - 1)
	if d > c.cfg.BackoffCap || d <= 0 {
		d = c.cfg.BackoffCap
	}
	return d
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) setAttempts(n int) {
	c.mu.Lock()
	c.attempts = n
	c.mu.Unlock()
}

func (c *Client) bumpAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return c.attempts
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastEventAt = time.Now()
	c.mu.Unlock()
}
