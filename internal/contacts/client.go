package contacts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
)

// Contact is the directory's answer for one phone number.
type Contact struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

var ErrNotFound = errors.New("contacts: not found")

// Client resolves phone numbers to display names against the directory
// service, with a Redis cache in front.
//
// The cache is optional: with a nil Redis client every lookup goes to the
// directory. Lookup failures degrade to the bare number; they never fail the
// caller's flow.
type Client struct {
	rest *resty.Client
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewClient(baseURL string, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(3 * time.Second).
		SetRetryCount(1)
	return &Client{rest: rest, rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(phone string) string { return "contact:name:" + phone }

// Lookup returns the display name for a phone number. ErrNotFound means the
// directory answered but has no entry; other errors are transport failures.
func (c *Client) Lookup(ctx context.Context, phone string) (string, error) {
	if phone == "" {
		return "", ErrNotFound
	}

	if c.rdb != nil {
		if name, err := c.rdb.Get(ctx, cacheKey(phone)).Result(); err == nil {
			return name, nil
		} else if !errors.Is(err, redis.Nil) {
			c.log.Warn("contact cache read failed", "err", err)
		}
	}

	var body Contact
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("phone", phone).
		SetResult(&body).
		Get("/v1/contacts/lookup")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() == 404 {
		return "", ErrNotFound
	}
	if resp.IsError() {
		return "", errors.New("contacts: directory returned " + resp.Status())
	}
	if body.Name == "" {
		return "", ErrNotFound
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, cacheKey(phone), body.Name, c.ttl).Err(); err != nil {
			c.log.Warn("contact cache write failed", "err", err)
		}
	}
	return body.Name, nil
}
