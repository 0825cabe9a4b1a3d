// Package httpclient implements the prescription repository against the REST
// API served by cmd/api.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository"
	"github.com/jwalitptl/rx-portal/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
	"github.com/jwalitptl/rx-portal/pkg/httputil"
	"github.com/jwalitptl/rx-portal/pkg/logger"
)

const maxBodySize = 4 << 20

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.cb = cb }
}

type Client struct {
	baseURL string
	http    *http.Client
	cb      *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

var _ repository.PrescriptionRepository = (*Client)(nil)

// New returns a client for the API rooted at baseURL, e.g.
// http://localhost:8080/api/v1. timeout bounds every request.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cb == nil {
		c.cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "prescription-api",
			MaxFailures: 5,
			Timeout:     10 * time.Second,
			IsFailure: func(err error) bool {
				code := apperrors.CodeOf(err)
				return code == apperrors.ErrUnavailable || code == apperrors.ErrInternal
			},
		})
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *httputil.Error `json:"error"`
}

func (c *Client) GetAll(ctx context.Context, filters *model.PrescriptionListFilters) ([]model.Prescription, error) {
	query := url.Values{}
	if filters != nil {
		if filters.Search != "" {
			query.Set("search", filters.Search)
		}
		if filters.Status != "" {
			query.Set("status", string(filters.Status))
		}
	}

	prescriptions := []model.Prescription{}
	if err := c.do(ctx, http.MethodGet, "/prescriptions", query, &prescriptions); err != nil {
		return nil, err
	}
	return prescriptions, nil
}

func (c *Client) GetByID(ctx context.Context, id string) (*model.Prescription, error) {
	var p model.Prescription
	err := c.do(ctx, http.MethodGet, "/prescriptions/"+url.PathEscape(id), nil, &p)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (c *Client) RequestRefill(ctx context.Context, id string) error {
	var resp model.RefillResponse
	return c.do(ctx, http.MethodPost, "/prescriptions/"+url.PathEscape(id)+"/refill", nil, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	start := time.Now()
	err := c.cb.Execute(func() error {
		return c.roundTrip(ctx, method, target, out)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = apperrors.Unavailable("prescription service unavailable", err)
	}

	c.logger.WithContext(ctx).Debug("api request",
		"method", method,
		"url", target,
		"duration", time.Since(start).String(),
		"code", codeLabel(err),
	)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if rid, ok := ctx.Value(logger.RequestIDKey).(string); ok && rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Unavailable("prescription service unreachable", err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&env)

	// Only a 404 carrying a resource error means the prescription is missing.
	// Anything else points at a wrong base URL or path.
	if resp.StatusCode == http.StatusNotFound &&
		(decodeErr != nil || env.Error == nil || env.Error.Message == httputil.MsgRouteNotFound) {
		return apperrors.Internal(fmt.Errorf("unexpected API route %s %s: status %d", method, req.URL.Path, resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return &apperrors.AppError{
			Code:    apperrors.CodeFromStatus(resp.StatusCode),
			Message: msg,
			Err:     fmt.Errorf("%s %s: status %d", method, req.URL.Path, resp.StatusCode),
		}
	}

	if decodeErr != nil {
		return apperrors.Internal(fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return apperrors.Internal(fmt.Errorf("failed to decode response data: %w", err))
		}
	}
	return nil
}

func codeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return apperrors.CodeOf(err).String()
}
