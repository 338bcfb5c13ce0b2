// Package booklookup fetches book metadata by ISBN from the Google Books volumes API.
package booklookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Google Books API root.
	DefaultBaseURL = "https://www.googleapis.com/books/v1"
	// DefaultRequestsPerMinute keeps anonymous callers well under the API quota.
	DefaultRequestsPerMinute = 60

	defaultTimeout = 15 * time.Second
	lookupBurst    = 5
)

var errEmptyISBN = errors.New("booklookup: isbn is required")

// Volume is the metadata used to prefill a new book.
type Volume struct {
	Title      string   `json:"title"`
	Authors    []string `json:"authors,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
	PageCount  int      `json:"page_count"`
}

// Author joins the volume's authors for display.
func (v Volume) Author() string {
	return strings.Join(v.Authors, ", ")
}

type volumesResponse struct {
	Items []struct {
		VolumeInfo struct {
			Title      string   `json:"title"`
			Authors    []string `json:"authors"`
			Categories []string `json:"categories"`
			ImageLinks struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
			PageCount int `json:"pageCount"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

type Config struct {
	BaseURL           string
	RequestsPerMinute int
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client is a rate-limited Google Books client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), lookupBurst),
		logger:      logger,
	}
}

// LookupISBN returns the first matching volume, or nil when the API knows no such ISBN.
func (c *Client) LookupISBN(ctx context.Context, isbn string) (*Volume, error) {
	normalized := normalizeISBN(isbn)
	if normalized == "" {
		return nil, errEmptyISBN
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("q", "isbn:"+normalized)
	lookupURL := c.baseURL + "/volumes?" + params.Encode()

	c.logger.Debug("looking up isbn", zap.String("isbn", normalized), zap.String("url", lookupURL))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup failed: status %d", response.StatusCode)
	}

	var payload volumesResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(payload.Items) == 0 {
		return nil, nil
	}

	info := payload.Items[0].VolumeInfo
	return &Volume{
		Title:      info.Title,
		Authors:    info.Authors,
		Categories: info.Categories,
		Thumbnail:  strings.Replace(info.ImageLinks.Thumbnail, "http://", "https://", 1),
		PageCount:  info.PageCount,
	}, nil
}

func normalizeISBN(isbn string) string {
	var builder strings.Builder
	for _, r := range strings.TrimSpace(isbn) {
		switch {
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == 'X' || r == 'x':
			builder.WriteRune('X')
		}
	}
	return builder.String()
}
