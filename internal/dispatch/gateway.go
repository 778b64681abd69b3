package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
)

// Response is the gateway's uniform reply for every call-control endpoint.
//
// Status convention:
//   - 1: the command succeeded
//   - 2: the call already ended on the remote side; local state should clear
//   - anything else: failure, local state must not change
type Response struct {
	Status    int    `json:"status"`
	Message   string `json:"message,omitempty"`
	CallID    string `json:"callId,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

const (
	StatusSuccess     = 1
	StatusRemoteEnded = 2
)

var ErrUnauthorized = errors.New("dispatch: gateway rejected token")

// TokenStore caches the gateway bearer token across requests (and, with the
// Redis store, across processes).
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore is a process-local token cache.
type MemoryTokenStore struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	clock   func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{clock: time.Now}
}

func (s *MemoryTokenStore) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.clock().After(s.expires) {
		return "", nil
	}
	return s.token, nil
}

func (s *MemoryTokenStore) Set(ctx context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expires = s.clock().Add(ttl)
	return nil
}

func (s *MemoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

const redisTokenKey = "gateway:auth:token"

// RedisTokenStore shares the gateway token between console instances.
type RedisTokenStore struct {
	rdb *redis.Client
}

func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) Get(ctx context.Context) (string, error) {
	token, err := s.rdb.Get(ctx, redisTokenKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func (s *RedisTokenStore) Set(ctx context.Context, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, redisTokenKey, token, ttl).Err()
}

func (s *RedisTokenStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, redisTokenKey).Err()
}

// GatewayConfig carries the REST gateway connection settings.
type GatewayConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Gateway is the REST client for the telephony control plane. All methods
// return the gateway's tri-state Response; transport errors are returned as
// Go errors and imply no state change.
type Gateway struct {
	rest   *resty.Client
	cfg    GatewayConfig
	tokens TokenStore
	log    *slog.Logger
}

func NewGateway(cfg GatewayConfig, tokens TokenStore, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Gateway{rest: rest, cfg: cfg, tokens: tokens, log: log}
}

// authenticate fetches a fresh bearer token and caches it.
func (g *Gateway) authenticate(ctx context.Context) (string, error) {
	var body Response
	resp, err := g.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"clientId":     g.cfg.ClientID,
			"clientSecret": g.cfg.ClientSecret,
		}).
		SetResult(&body).
		Post("/AuthToken")
	if err != nil {
		return "", err
	}
	if resp.IsError() || body.Token == "" {
		return "", fmt.Errorf("dispatch: auth failed with http %d status %d", resp.StatusCode(), body.Status)
	}

	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	// Renew ahead of expiry so an in-flight command never rides a dying token.
	if ttl > time.Minute {
		ttl -= 30 * time.Second
	}
	if err := g.tokens.Set(ctx, body.Token, ttl); err != nil {
		g.log.Warn("gateway token cache write failed", "err", err)
	}
	return body.Token, nil
}

func (g *Gateway) token(ctx context.Context) (string, error) {
	token, err := g.tokens.Get(ctx)
	if err != nil {
		g.log.Warn("gateway token cache read failed", "err", err)
	}
	if token != "" {
		return token, nil
	}
	return g.authenticate(ctx)
}

// post executes one authenticated command, re-authenticating once on 401.
func (g *Gateway) post(ctx context.Context, path string, payload any) (Response, error) {
	token, err := g.token(ctx)
	if err != nil {
		return Response{}, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		var body Response
		resp, err := g.rest.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(payload).
			SetResult(&body).
			Post(path)
		if err != nil {
			return Response{}, err
		}
		if resp.StatusCode() == 401 {
			if attempt == 1 {
				return Response{}, ErrUnauthorized
			}
			_ = g.tokens.Clear(ctx)
			if token, err = g.authenticate(ctx); err != nil {
				return Response{}, err
			}
			continue
		}
		if resp.IsError() {
			return Response{}, fmt.Errorf("dispatch: gateway %s returned http %d", path, resp.StatusCode())
		}
		return body, nil
	}
	return Response{}, ErrUnauthorized
}

// Initiate places an outbound call from the virtual number to destination.
func (g *Gateway) Initiate(ctx context.Context, cli, agentNumber, destination string) (Response, error) {
	return g.post(ctx, "/initiate-call", map[string]string{
		"cli":         cli,
		"agentNumber": agentNumber,
		"destination": destination,
	})
}

// Answer accepts a ringing inbound call.
func (g *Gateway) Answer(ctx context.Context, callID, agentNumber string) (Response, error) {
	return g.post(ctx, "/AnswerCall", map[string]string{
		"callId":      callID,
		"agentNumber": agentNumber,
	})
}

// Disconnect tears a call down; the gateway uses the same endpoint for
// rejecting a ringing call and hanging up a connected one.
func (g *Gateway) Disconnect(ctx context.Context, callID string) (Response, error) {
	return g.post(ctx, "/CallDisconnection", map[string]string{
		"callId": callID,
	})
}

// HoldOrResume toggles hold state; hold=true parks the remote party.
func (g *Gateway) HoldOrResume(ctx context.Context, callID string, hold bool) (Response, error) {
	action := "resume"
	if hold {
		action = "hold"
	}
	return g.post(ctx, "/HoldorResume", map[string]string{
		"callId": callID,
		"action": action,
	})
}

// Conference pulls a third participant into the call.
func (g *Gateway) Conference(ctx context.Context, callID, participant string) (Response, error) {
	return g.post(ctx, "/callConference", map[string]string{
		"callId":      callID,
		"participant": participant,
	})
}
