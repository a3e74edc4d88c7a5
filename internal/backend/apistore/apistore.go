// Package apistore speaks to a centralized environment service over an
// authenticated HTTP API. Store, Retrieve, List and Delete map onto the
// service's create/read/list/delete endpoints; response statuses map onto
// the backend error taxonomy.
//
// Every call is bounded by a fixed request timeout. Timeouts and 5xx
// responses are classified transient; only the idempotent reads (Retrieve,
// List) are retried, with a bounded attempt ceiling and increasing backoff.
// A circuit breaker sheds load when the service is persistently failing.
package apistore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/live-labs/envsync/internal/backend"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond

	environmentsPath = "/v1/environments"
)

// Config holds API client settings.
type Config struct {
	BaseURL string
	// Token is the bearer credential attached to every request.
	Token string
	// Timeout bounds each remote call. Defaults to 30s.
	Timeout time.Duration
	// MaxRetries caps retry attempts for idempotent reads. Defaults to 3.
	MaxRetries int
	// RetryDelay is the initial backoff, doubled per attempt. Defaults to 500ms.
	RetryDelay time.Duration
}

// Client is a centralized-API backend.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// environmentResource is the service's wire representation of one stored
// environment snapshot.
type environmentResource struct {
	ID        string    `json:"id"`
	Data      string    `json:"data"` // base64
	Encrypted bool      `json:"encrypted"`
	Format    string    `json:"format"`
	UpdatedAt time.Time `json:"updated_at"`
}

type listResponse struct {
	Environments []environmentResource `json:"environments"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates an API client. Call Initialize before use.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "envsync-api",
		// Only persistent transport/server failures should open the
		// circuit; application errors like 404 are successful calls.
		IsSuccessful: func(err error) bool {
			return err == nil || !backend.IsRetryable(err)
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Initialize verifies the service is reachable with the configured
// credential.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, environmentsPath, nil, "initialize")
	return err
}

// Store creates (empty id) or updates (non-empty id) the remote snapshot.
// Mutations are never blindly retried: an ambiguous failure must not turn
// into a duplicate remote write.
func (c *Client) Store(ctx context.Context, id string, payload backend.Payload) (*backend.Metadata, error) {
	body, err := json.Marshal(environmentResource{
		ID:        id,
		Data:      base64.StdEncoding.EncodeToString(payload.Data),
		Encrypted: payload.Encrypted,
		Format:    payload.Format,
	})
	if err != nil {
		return nil, backend.NewError(backend.ErrFatal, "store", err.Error())
	}

	method, path := http.MethodPost, environmentsPath
	if id != "" {
		method, path = http.MethodPut, environmentsPath+"/"+id
	}

	data, err := c.doJSON(ctx, method, path, body, "store")
	if err != nil {
		return nil, err
	}

	var resource environmentResource
	if err := json.Unmarshal(data, &resource); err != nil {
		return nil, backend.NewError(backend.ErrFatal, "store", "malformed service response")
	}
	return &backend.Metadata{ID: resource.ID, UpdatedAt: resource.UpdatedAt}, nil
}

// Retrieve reads the remote snapshot, retrying transient failures.
func (c *Client) Retrieve(ctx context.Context, id string) (backend.Payload, *backend.Metadata, error) {
	var payload backend.Payload
	var metadata *backend.Metadata

	err := c.retryRead(ctx, "retrieve", func() error {
		data, err := c.doJSON(ctx, http.MethodGet, environmentsPath+"/"+id, nil, "retrieve")
		if err != nil {
			return err
		}
		var resource environmentResource
		if err := json.Unmarshal(data, &resource); err != nil {
			return backend.NewError(backend.ErrFatal, "retrieve", "malformed service response")
		}
		raw, err := base64.StdEncoding.DecodeString(resource.Data)
		if err != nil {
			return backend.NewError(backend.ErrFatal, "retrieve", "malformed payload encoding")
		}
		payload = backend.Payload{Data: raw, Encrypted: resource.Encrypted, Format: resource.Format}
		metadata = &backend.Metadata{ID: resource.ID, UpdatedAt: resource.UpdatedAt}
		return nil
	})
	if err != nil {
		return backend.Payload{}, nil, err
	}
	return payload, metadata, nil
}

// List enumerates remote snapshots, retrying transient failures.
func (c *Client) List(ctx context.Context) ([]backend.Summary, error) {
	var summaries []backend.Summary

	err := c.retryRead(ctx, "list", func() error {
		data, err := c.doJSON(ctx, http.MethodGet, environmentsPath, nil, "list")
		if err != nil {
			return err
		}
		var resp listResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return backend.NewError(backend.ErrFatal, "list", "malformed service response")
		}
		summaries = summaries[:0]
		for _, resource := range resp.Environments {
			raw, err := base64.StdEncoding.DecodeString(resource.Data)
			if err != nil {
				continue
			}
			summaries = append(summaries, backend.Summary{
				ID:        resource.ID,
				Size:      int64(len(raw)),
				Encrypted: resource.Encrypted,
				UpdatedAt: resource.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// Delete removes the remote snapshot. Not retried: deletion is mutating.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, environmentsPath+"/"+id, nil, "delete")
	return err
}

// doJSON performs one request through the circuit breaker and returns the
// response body for 2xx statuses.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, op string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, backend.NewError(backend.ErrFatal, op, err.Error())
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			// Timeouts and transport failures are transient; the
			// bounded retry policy decides whether to try again.
			return nil, backend.NewError(backend.ErrTransient, op, err.Error())
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, backend.NewError(backend.ErrTransient, op, err.Error())
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			message := ""
			var errResp errorResponse
			if json.Unmarshal(data, &errResp) == nil {
				message = errResp.Error
			}
			return nil, backend.FromStatus(op, resp.StatusCode, message)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backend.NewError(backend.ErrTransient, op, "circuit breaker open")
		}
		return nil, err
	}
	return result.([]byte), nil
}

// retryRead runs fn with a bounded attempt ceiling and increasing backoff.
// Only retryable failures are attempted again.
func (c *Client) retryRead(ctx context.Context, op string, fn func() error) error {
	delay := c.cfg.RetryDelay
	var err error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		err = fn()
		if err == nil || !backend.IsRetryable(err) {
			return err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		c.logger.Debug("retrying idempotent read",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}
