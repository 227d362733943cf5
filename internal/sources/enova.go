package sources

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/greenpulse/greenpulse/internal/config"
	"github.com/greenpulse/greenpulse/internal/models"
)

// EnovaClient fetches energy-efficiency project statistics from the Enova
// public API.
type EnovaClient struct {
	cfg     config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewEnovaClient(cfg config.SourceConfig, client *http.Client) *EnovaClient {
	return &EnovaClient{cfg: cfg, client: client, limiter: newLimiter(cfg)}
}

func (e *EnovaClient) Name() string { return "enova" }

func (e *EnovaClient) Fetch(ctx context.Context) (*models.RawRecord, error) {
	u, err := url.Parse(strings.TrimRight(e.cfg.BaseURL, "/") + "/projects/statistics")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("category", "all")
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	baseHeaders(req, e.cfg.APIKey)
	if e.cfg.APIKey != "" {
		// Enova also accepts the key as a dedicated header.
		req.Header.Set("X-API-Key", e.cfg.APIKey)
	}

	payload, err := doJSON(e.client, e.limiter, req)
	if err != nil {
		return nil, err
	}

	return &models.RawRecord{
		Source:    e.Name(),
		Endpoint:  u.String(),
		FetchedAt: time.Now().UTC(),
		Payload:   payload,
	}, nil
}
