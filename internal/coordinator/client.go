// Package coordinator talks to the fleet coordinator that assigns regions to
// workers and records job outcomes.
package coordinator

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

const (
	secretHeader   = "x-api-secret"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config locates the coordinator and identifies this worker.
type Config struct {
	BaseURL   string
	APISecret string
	WorkerID  string
	Timeout   time.Duration
}

// GetJobResponse is the get-job envelope.
type GetJobResponse struct {
	Success bool             `json:"success"`
	Job     *marketplace.Job `json:"job"`
	Message string           `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// StatusReport is the report-status request body.
type StatusReport struct {
	VPSID             string                `json:"vpsId"`
	JobID             string                `json:"jobId"`
	Status            marketplace.JobStatus `json:"status"`
	ListingsFound     *int                  `json:"listingsFound,omitempty"`
	NewListingsAdded  *int                  `json:"newListingsAdded,omitempty"`
	DuplicatesSkipped *int                  `json:"duplicatesSkipped,omitempty"`
	ScrapeDuration    *int                  `json:"scrapeDuration,omitempty"`
	ErrorMessage      string                `json:"errorMessage,omitempty"`
}

// StatusResponse is the report-status envelope.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse carries the health payload. Fields is the raw document.
type HealthResponse struct {
	Success bool
	Status  string
	Error   string
	Fields  map[string]any
}

// Client is a thin HTTP+JSON client. Transport failures and non-2xx answers
// come back as unsuccessful envelopes rather than Go errors.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a Client with an instrumented transport.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return NewWithHTTPClient(cfg, httpClient, logger)
}

// NewWithHTTPClient uses the supplied HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("coordinator base url is required")
	}
	if cfg.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APISecret == "" {
		logger.Warn("no coordinator api secret configured")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

// WorkerID returns the id sent with every request.
func (c *Client) WorkerID() string {
	return c.cfg.WorkerID
}

// GetJob asks for the next region to scrape.
func (c *Client) GetJob(ctx context.Context) GetJobResponse {
	var resp GetJobResponse
	if msg := c.do(ctx, http.MethodPost, "get-job", map[string]string{"vpsId": c.cfg.WorkerID}, &resp); msg != "" {
		return GetJobResponse{Success: false, Error: msg}
	}
	return resp
}

// ReportStatus posts a job status transition.
func (c *Client) ReportStatus(ctx context.Context, report StatusReport) StatusResponse {
	if report.VPSID == "" {
		report.VPSID = c.cfg.WorkerID
	}
	var resp StatusResponse
	if msg := c.do(ctx, http.MethodPost, "report-status", report, &resp); msg != "" {
		return StatusResponse{Success: false, Error: msg}
	}
	return resp
}

// Health fetches the coordinator health document.
func (c *Client) Health(ctx context.Context) HealthResponse {
	fields := map[string]any{}
	if msg := c.do(ctx, http.MethodGet, "health", nil, &fields); msg != "" {
		return HealthResponse{Success: false, Error: msg, Fields: map[string]any{"success": false, "error": msg}}
	}
	status, _ := fields["status"].(string)
	success := true
	if v, ok := fields["success"].(bool); ok {
		success = v
	}
	return HealthResponse{Success: success, Status: status, Fields: fields}
}

// do performs one request and decodes the body into out. It returns a
// non-empty message on any failure.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) string {
	url := c.cfg.BaseURL + "/" + endpoint
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Sprintf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.cfg.APISecret)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("coordinator request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return err.Error()
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Sprintf("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("%s %s: status %d", method, endpoint, resp.StatusCode)
		var env struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			msg += ": " + env.Error
		}
		c.logger.Error("coordinator request failed", zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode))
		return msg
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Sprintf("decode response: %v", err)
	}
	return ""
}

// IntPtr returns a pointer to v for optional report fields.
func IntPtr(v int) *int {
	return &v
}
