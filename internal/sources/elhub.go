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

const defaultElhubDataset = "CONSUMPTION_PER_GROUP_MBA_HOUR"

// ElhubClient queries the Elhub energy-data API for consumption per
// price area.
type ElhubClient struct {
	cfg     config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewElhubClient(cfg config.SourceConfig, client *http.Client) *ElhubClient {
	return &ElhubClient{cfg: cfg, client: client, limiter: newLimiter(cfg)}
}

func (e *ElhubClient) Name() string { return "elhub" }

func (e *ElhubClient) Fetch(ctx context.Context) (*models.RawRecord, error) {
	dataset := e.cfg.Dataset
	if dataset == "" {
		dataset = defaultElhubDataset
	}

	u, err := url.Parse(strings.TrimRight(e.cfg.BaseURL, "/") + "/price-areas")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("dataset", dataset)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	baseHeaders(req, e.cfg.APIKey)

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
