package snapshots

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	snapshotPath          = "/snapshot"
	defaultRequestTimeout = 10 * time.Second
	maxErrorBodyBytes     = 4096
)

var errMissingBaseURL = errors.New("snapshots: remote base url is required")

// ClientConfig describes a remote snapshot endpoint.
type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to a snapshot server over HTTP. The server scopes every call to the token's user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// FetchLatest downloads the caller's snapshot. A 404 maps to ErrSnapshotNotFound.
func (c *Client) FetchLatest(ctx context.Context, userID string) (Record, error) {
	request, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return Record{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return Record{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return Record{}, ErrSnapshotNotFound
	}
	if response.StatusCode != http.StatusOK {
		return Record{}, statusError("fetch snapshot", response)
	}

	var record Record
	if err := json.NewDecoder(response.Body).Decode(&record); err != nil {
		return Record{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if record.UserID != "" && userID != "" && record.UserID != userID {
		return Record{}, fmt.Errorf("fetch snapshot: server returned user %q, expected %q", record.UserID, userID)
	}
	c.logger.Debug("snapshot fetched", zap.String("user_id", record.UserID), zap.Int64("version", record.Version))
	return record, nil
}

// Upsert uploads the record and returns the server's stored copy.
func (c *Client) Upsert(ctx context.Context, record Record) (Record, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return Record{}, fmt.Errorf("encode snapshot: %w", err)
	}
	request, err := c.newRequest(ctx, http.MethodPut, payload)
	if err != nil {
		return Record{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return Record{}, fmt.Errorf("upload snapshot: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Record{}, statusError("upload snapshot", response)
	}
	var stored Record
	if err := json.NewDecoder(response.Body).Decode(&stored); err != nil {
		return Record{}, fmt.Errorf("parse upload response: %w", err)
	}
	return stored, nil
}

func (c *Client) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+snapshotPath, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	return request, nil
}

func statusError(action string, response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		return fmt.Errorf("%s failed: status %d: %s", action, response.StatusCode, envelope.Error)
	}
	return fmt.Errorf("%s failed: status %d", action, response.StatusCode)
}
