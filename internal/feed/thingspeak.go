// Package feed reads the latest gas reading from a ThingSpeak channel.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gas-monitor/internal/models"
)

const DefaultBaseURL = "https://api.thingspeak.com"

// Client is anything that can return the most recent reading
type Client interface {
	FetchLatest(ctx context.Context) (models.Reading, error)
}

// HTTPClient is the subset of *http.Client used for requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds ThingSpeak client configuration
type Config struct {
	BaseURL   string
	ChannelID string
	APIKey    string
	Timeout   time.Duration // per request, default 10s
	RateLimit float64       // requests per second, 0 disables limiting
}

// ThingSpeakClient fetches channel feeds over HTTP
type ThingSpeakClient struct {
	http    HTTPClient
	limiter *rate.Limiter
	timeout time.Duration
	url     string
}

type feedsResponse struct {
	Feeds []feedEntry `json:"feeds"`
}

type feedEntry struct {
	EntryID   json.RawMessage `json:"entry_id"`
	CreatedAt string          `json:"created_at"`
	Field1    json.RawMessage `json:"field1"`
}

// NewThingSpeakClient builds a client. httpClient may be nil.
func NewThingSpeakClient(config Config, httpClient HTTPClient) (*ThingSpeakClient, error) {
	if config.ChannelID == "" {
		return nil, errors.New("thingspeak channel id is required")
	}
	base := config.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	q := url.Values{}
	if config.APIKey != "" {
		q.Set("api_key", config.APIKey)
	}
	q.Set("results", "1")
	endpoint := fmt.Sprintf("%s/channels/%s/feeds.json?%s",
		strings.TrimRight(base, "/"), url.PathEscape(config.ChannelID), q.Encode())

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &ThingSpeakClient{
		http:    httpClient,
		limiter: limiter,
		timeout: timeout,
		url:     endpoint,
	}, nil
}

// FetchLatest requests exactly one entry and decodes it
func (c *ThingSpeakClient) FetchLatest(ctx context.Context) (models.Reading, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.Reading{}, &FetchError{Kind: KindTimeout, Err: err}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return models.Reading{}, &FetchError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Reading{}, &FetchError{Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Reading{}, &FetchError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	var payload feedsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		kind := KindDecode
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return models.Reading{}, &FetchError{Kind: kind, Err: fmt.Errorf("failed to decode feed: %w", err)}
	}

	return parseLatest(payload.Feeds)
}

// parseLatest turns the last feed entry into a Reading
func parseLatest(feeds []feedEntry) (models.Reading, error) {
	if len(feeds) == 0 {
		return models.Reading{}, &FetchError{Kind: KindEmpty, Err: errors.New("feed has no entries")}
	}
	entry := feeds[len(feeds)-1]

	entryID, ok := rawScalar(entry.EntryID)
	if !ok || entryID == "" {
		return models.Reading{}, &FetchError{Kind: KindField, Err: errors.New("entry_id missing")}
	}

	raw, ok := rawScalar(entry.Field1)
	if !ok || raw == "" {
		return models.Reading{}, &FetchError{Kind: KindField, Err: fmt.Errorf("field1 missing for entry %s", entryID)}
	}
	gas, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return models.Reading{}, &FetchError{Kind: KindField, Err: fmt.Errorf("field1 %q is not numeric: %w", raw, err)}
	}
	if math.IsNaN(gas) || math.IsInf(gas, 0) {
		return models.Reading{}, &FetchError{Kind: KindField, Err: fmt.Errorf("field1 %q is not a finite number", raw)}
	}

	return models.Reading{
		EntryID:   entryID,
		CreatedAt: entry.CreatedAt,
		GasPPM:    gas,
	}, nil
}

// rawScalar accepts a JSON string or number and returns its text. null and
// absent values report false.
func rawScalar(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", false
		}
		return str, true
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return "", false
	}
	return s, true
}

func classifyTransportError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
