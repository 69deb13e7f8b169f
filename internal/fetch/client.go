// Package fetch retrieves the raw liquidity series from the upstream API.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/netliquidity/internal/cache"
	"github.com/rewired-gh/netliquidity/internal/engine"
	"github.com/rewired-gh/netliquidity/internal/logger"
	"github.com/rewired-gh/netliquidity/internal/models"
	"github.com/rewired-gh/netliquidity/internal/series"
)

// maxBodyBytes caps a single upstream payload.
const maxBodyBytes = 32 << 20

// ClientConfig holds configuration for the upstream client
type ClientConfig struct {
	BaseURL             string
	Timeout             time.Duration
	MaxRetries          int
	RetryDelayBase      time.Duration
	Concurrency         int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Cache is optional; a nil cache disables caching.
	Cache    cache.BytesCache
	CacheTTL time.Duration
}

// Source is one configured upstream series.
type Source struct {
	Role   models.Role
	Path   string
	Fields series.FieldMap
}

// Client provides access to the upstream series API
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
	concurrency    int
	cache          cache.BytesCache
	cacheTTL       time.Duration
}

// NewClient creates a new upstream client
func NewClient(cfg ClientConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		maxRetries:     maxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		concurrency:    concurrency,
		cache:          cfg.Cache,
		cacheTTL:       cfg.CacheTTL,
	}
}

// FetchAll fetches and normalizes every source concurrently. One source
// failing never cancels the others; its error is carried in the dataset.
func (c *Client) FetchAll(ctx context.Context, sources []Source) engine.Dataset {
	results := make([]engine.SourceResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			obs, err := c.FetchSeries(gctx, src)
			if err != nil {
				logger.Warn("Source %s failed: %v", src.Role, err)
			}
			results[i] = engine.SourceResult{Series: obs, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	ds := make(engine.Dataset, len(sources))
	for i, src := range sources {
		ds[src.Role] = results[i]
	}
	return ds
}

// FetchSeries fetches one source and normalizes it into observations.
func (c *Client) FetchSeries(ctx context.Context, src Source) ([]models.Observation, error) {
	records, err := c.FetchRecords(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", src.Role, err)
	}
	return series.Normalize(src.Role, records, src.Fields)
}

// FetchRecords returns the raw rows served at path.
func (c *Client) FetchRecords(ctx context.Context, path string) ([]series.Record, error) {
	url := c.baseURL + path

	if c.cache != nil {
		b, ok, err := c.cache.GetBytes(ctx, url)
		if err != nil {
			logger.Warn("Cache read for %s failed: %v", path, err)
		} else if ok {
			if records, err := DecodeRecords(b); err == nil {
				logger.Debug("Cache hit for %s", path)
				return records, nil
			}
		}
	}

	body, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetBytes(ctx, url, body, c.cacheTTL); err != nil {
			logger.Warn("Cache write for %s failed: %v", path, err)
		}
	}
	return records, nil
}

// DecodeRecords accepts either a bare JSON array of rows or an object that
// wraps the rows in an "output" field.
func DecodeRecords(body []byte) ([]series.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	raw := trimmed
	if trimmed[0] == '{' {
		var wrapper struct {
			Output json.RawMessage `json:"output"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(wrapper.Output) == 0 {
			return nil, fmt.Errorf("response has no output field")
		}
		raw = wrapper.Output
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []series.Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.retryDelayBase):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
