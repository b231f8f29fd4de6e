// Package client talks to a running kapt daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tphakala/kapt/internal/api"
	"github.com/tphakala/kapt/internal/audio"
	"github.com/tphakala/kapt/internal/controller"
	"github.com/tphakala/kapt/internal/errors"
)

// DefaultTimeout covers a kapture, which stops capture and transcodes the
// whole clip before answering.
const DefaultTimeout = 5 * time.Minute

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Response   api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Error != "" && e.Response.Error != e.Response.Message {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Response.Message, e.Response.Error, e.StatusCode)
	}
	if e.Response.Message != "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Response.Message, e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Client is an HTTP client for the control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the daemon listening on addr, given either as
// host:port or as a full URL.
func New(addr string, opts ...Option) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the daemon's capture state.
func (c *Client) Status(ctx context.Context) (*controller.Status, error) {
	var st controller.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Activate starts capture.
func (c *Client) Activate(ctx context.Context) (*api.StateResponse, error) {
	var resp api.StateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/capture/activate", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deactivate stops capture and discards the buffer.
func (c *Client) Deactivate(ctx context.Context) (*api.StateResponse, error) {
	var resp api.StateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/capture/deactivate", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Kapture requests a clip of length d ending at end. A zero end means now
// and a zero d the daemon's default length.
func (c *Client) Kapture(ctx context.Context, end time.Time, d time.Duration) (*api.KaptureResponse, error) {
	req := api.KaptureRequest{DurationMs: d.Milliseconds()}
	if !end.IsZero() {
		req.EndTime = end.UnixMilli()
	}
	var resp api.KaptureResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/kaptures", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AudioSources lists the daemon's audio sources.
func (c *Client) AudioSources(ctx context.Context) ([]audio.Source, error) {
	var sources []audio.Source
	if err := c.do(ctx, http.MethodGet, "/api/v1/audio/sources", nil, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// SetAudioSource selects the audio source by name.
func (c *Client) SetAudioSource(ctx context.Context, name string) (*controller.Status, error) {
	return c.putSetting(ctx, "audio-source", api.AudioSourceRequest{Source: name})
}

// SetOutputFolder changes where clips are written.
func (c *Client) SetOutputFolder(ctx context.Context, folder string) (*controller.Status, error) {
	return c.putSetting(ctx, "output-folder", api.OutputFolderRequest{Folder: folder})
}

// SetCacheBudget changes how much history the daemon keeps.
func (c *Client) SetCacheBudget(ctx context.Context, d time.Duration) (*controller.Status, error) {
	return c.putSetting(ctx, "cache-budget", api.CacheBudgetRequest{Seconds: int(d / time.Second)})
}

func (c *Client) putSetting(ctx context.Context, name string, body any) (*controller.Status, error) {
	var st controller.Status
	if err := c.do(ctx, http.MethodPut, "/api/v1/settings/"+name, body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.New(err).
				Component("client").
				Category(errors.CategoryValidation).
				Build()
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryValidation).
			Context("url", c.baseURL+path).
			Build()
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryNetwork).
			Context("url", c.baseURL+path).
			Build()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryNetwork).
			Build()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.Response)
		return errors.New(apiErr).
			Component("client").
			Category(categoryForStatus(resp.StatusCode)).
			Context("status_code", resp.StatusCode).
			Context("path", path).
			Build()
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryHTTP).
			Context("operation", "decode_response").
			Build()
	}
	return nil
}

// categoryForStatus reverses api.StatusForError.
func categoryForStatus(code int) errors.ErrorCategory {
	switch code {
	case http.StatusRequestedRangeNotSatisfiable:
		return errors.CategoryOutOfRange
	case http.StatusBadRequest:
		return errors.CategoryValidation
	case http.StatusBadGateway:
		return errors.CategoryExtraction
	case http.StatusConflict:
		return errors.CategoryState
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	case http.StatusGatewayTimeout:
		return errors.CategoryTimeout
	default:
		return errors.CategoryHTTP
	}
}
