package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// transitionPayload is the wire shape the platform audit endpoint expects.
type transitionPayload struct {
	ReferenceID string `json:"referenceId"`
	CLI         string `json:"cli"`
	AParty      string `json:"aParty"`
	BParty      string `json:"bParty"`
	Status      string `json:"status"`
}

// HTTPRepo ships transitions to the platform audit endpoint.
//
// Delivery is fire-and-forget: failures are logged and swallowed so that a
// degraded audit backend cannot stall call handling.
type HTTPRepo struct {
	client *resty.Client
	log    *slog.Logger
}

func NewHTTPRepo(baseURL, apiKey string, log *slog.Logger) *HTTPRepo {
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("X-Api-Key", apiKey)
	}
	return &HTTPRepo{client: client, log: log}
}

func (r *HTTPRepo) Append(ctx context.Context, e Entry) error {
	payload := transitionPayload{
		ReferenceID: e.ReferenceID,
		CLI:         e.CLI,
		AParty:      e.AParty,
		BParty:      e.BParty,
		Status:      string(e.Status),
	}

	go func() {
		// Detached from the caller's ctx: the call flow must not wait on audit.
		resp, err := r.client.R().
			SetContext(context.Background()).
			SetBody(payload).
			Post("/v1/call-transitions")
		if err != nil {
			r.log.Warn("audit transition post failed", "reference_id", e.ReferenceID, "status", e.Status, "err", err)
			return
		}
		if resp.IsError() {
			r.log.Warn("audit transition rejected", "reference_id", e.ReferenceID, "status", e.Status, "http_status", resp.StatusCode())
		}
	}()
	return nil
}

var _ Repository = (*HTTPRepo)(nil)

// String implements fmt.Stringer for config dumps without leaking the key.
func (r *HTTPRepo) String() string {
	return fmt.Sprintf("audit.HTTPRepo(%s)", r.client.BaseURL)
}
