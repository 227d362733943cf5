package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/greenpulse/greenpulse/internal/config"
	"github.com/greenpulse/greenpulse/internal/models"
)

// defaultSSBTableID is the Statistics Norway table for greenhouse gas
// emissions in CO2 equivalents.
const defaultSSBTableID = "13931"

type ssbSelection struct {
	Filter string   `json:"filter"`
	Values []string `json:"values"`
}

type ssbQueryItem struct {
	Code      string       `json:"code"`
	Selection ssbSelection `json:"selection"`
}

type ssbRequest struct {
	Query    []ssbQueryItem `json:"query"`
	Response struct {
		Format string `json:"format"`
	} `json:"response"`
}

// SSBClient speaks the Statistics Norway PxWebApi: a POST with a table
// query, answered in JSON-stat2.
type SSBClient struct {
	cfg     config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewSSBClient(cfg config.SourceConfig, client *http.Client) *SSBClient {
	return &SSBClient{cfg: cfg, client: client, limiter: newLimiter(cfg)}
}

func (s *SSBClient) Name() string { return "ssb" }

func (s *SSBClient) Fetch(ctx context.Context) (*models.RawRecord, error) {
	tableID := s.cfg.TableID
	if tableID == "" {
		tableID = defaultSSBTableID
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), tableID)

	// Total greenhouse gases in CO2 equivalents, all source sectors.
	query := ssbRequest{
		Query: []ssbQueryItem{
			{Code: "Klimagass", Selection: ssbSelection{Filter: "item", Values: []string{"A10"}}},
			{Code: "ContentsCode", Selection: ssbSelection{Filter: "item", Values: []string{"UtslippCO2ekvivalenter"}}},
		},
	}
	query.Response.Format = "json-stat2"

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal ssb query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ssb request: %w", err)
	}
	baseHeaders(req, s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	payload, err := doJSON(s.client, s.limiter, req)
	if err != nil {
		return nil, err
	}

	return &models.RawRecord{
		Source:    s.Name(),
		Endpoint:  url,
		FetchedAt: time.Now().UTC(),
		Payload:   payload,
	}, nil
}
