// Package sources contains one HTTP client per external statistics provider.
//
// Each client maps its own provider's query contract to a RawRecord; no
// provider-specific logic leaks outside its file. Clients do not retry —
// retry policy belongs to the orchestrator.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/greenpulse/greenpulse/internal/config"
	"github.com/greenpulse/greenpulse/internal/models"
)

const userAgent = "GreenPulse-DataFetch/1.0"

// maxBodyExcerpt bounds how much of a bad response body is carried in errors.
const maxBodyExcerpt = 512

var (
	// ErrSourceUnavailable marks network-level failures and timeouts.
	// Retryable by the caller.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceResponse marks non-200 statuses and undecodable bodies.
	// Not retryable without investigation.
	ErrSourceResponse = errors.New("unexpected source response")
)

// Client fetches one provider's statistics and returns the raw response.
type Client interface {
	Name() string
	Fetch(ctx context.Context) (*models.RawRecord, error)
}

// NewFromConfig constructs the client registered under a source name.
// The HTTP client is constructed once by the caller and shared.
func NewFromConfig(name string, cfg config.SourceConfig, client *http.Client) (Client, error) {
	switch name {
	case "ssb":
		return NewSSBClient(cfg, client), nil
	case "elhub":
		return NewElhubClient(cfg, client), nil
	case "enova":
		return NewEnovaClient(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", name)
	}
}

// NewHTTPClient builds the shared outbound HTTP client. Lifecycle is owned
// by the caller, not by any individual source.
func NewHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Transport: tr}
}

func newLimiter(cfg config.SourceConfig) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return nil
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
}

// doJSON issues the request and returns the verbatim decoded JSON body.
// The request context must already carry the per-source deadline.
func doJSON(client *http.Client, limiter *rate.Limiter, req *http.Request) (json.RawMessage, error) {
	if limiter != nil {
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrSourceUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrSourceResponse, resp.StatusCode, bodyExcerpt(body))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: malformed JSON body: %s", ErrSourceResponse, bodyExcerpt(body))
	}

	return json.RawMessage(body), nil
}

func bodyExcerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodyExcerpt {
		s = s[:maxBodyExcerpt]
	}
	return s
}

func baseHeaders(req *http.Request, apiKey string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
