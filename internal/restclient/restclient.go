// Package restclient generalizes the teacher's exchange.Client
// (internal/exchange/client.go) from a single hardcoded Polymarket REST
// client into a venue-agnostic REST envelope: one keep-alive HTTP session,
// pluggable signing, rate limiting before the network call, retry-manager
// wrapping around it, and typed response decoding.
package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gateway/cex-gateway/internal/ratelimit"
	"github.com/gateway/cex-gateway/internal/retry"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/pkg/errs"
	"github.com/gateway/cex-gateway/pkg/types"
)

// DefaultRetriablePredicate classifies venue errors as retriable per spec
// §4.G: HTTP 429 and 5xx, plus any venue-specific transient code the plugin
// recognizes via RetriableCode. Network-level errors (no VenueError to
// unwrap) are always retriable.
func DefaultRetriablePredicate(plugin venue.Plugin) retry.Predicate {
	return func(err error) bool {
		var venueErr *errs.VenueError
		if !errors.As(err, &venueErr) {
			return true
		}
		if venueErr.Code == "429" {
			return true
		}
		if len(venueErr.Code) == 3 && venueErr.Code[0] == '5' {
			return true
		}
		return plugin.RetriableCode(venueErr.Code)
	}
}

// Credentials is the venue API key triplet; Passphrase is unused by venues
// that don't require one.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Config bounds the HTTP session's transport-level behavior.
type Config struct {
	Timeout time.Duration
}

// Client is one venue's REST envelope.
type Client struct {
	http     *resty.Client
	exchange types.Exchange
	signer   venue.Signer
	creds    Credentials
	limiter  *ratelimit.Limiter
	retryMgr *retry.Manager
	logger   *slog.Logger
}

// New constructs a Client bound to baseURL, signing via signer, rate
// limited via limiter, and retried via retryMgr.
func New(cfg Config, exchange types.Exchange, baseURL string, signer venue.Signer, creds Credentials, limiter *ratelimit.Limiter, retryMgr *retry.Manager, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     http,
		exchange: exchange,
		signer:   signer,
		creds:    creds,
		limiter:  limiter,
		retryMgr: retryMgr,
		logger:   logger.With("component", "restclient", "exchange", string(exchange)),
	}
}

// Request is one REST call's composed parameters.
type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Body         any
	Signed       bool
	RateLimitKey string
	NowMs        int64
}

// errorBody is the generic shape of a venue error payload; concrete venue
// packages may decode a richer structure from the same bytes when needed.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Do issues req, decoding a successful JSON response into result (which may
// be nil for call sites that don't need a body). It rate-limits before the
// network call and wraps the call with the client's RetryManager.
func Do[T any](ctx context.Context, c *Client, req Request, result *T) error {
	if err := c.limiter.Limit(ctx, req.RateLimitKey, 1); err != nil {
		return fmt.Errorf("restclient: %s %s: %w", req.Method, req.Path, err)
	}

	_, err := retry.Run(ctx, c.retryMgr, req.Method+" "+req.Path, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.doOnce(ctx, req, result)
	})
	return err
}

// doOnce performs a single HTTP round-trip: signing, dispatch, and response
// classification. The retry wrapper in Do re-invokes this on retriable
// errors.
func (c *Client) doOnce(ctx context.Context, req Request, result any) error {
	r := c.http.R().SetContext(ctx)

	query := req.Query
	if query == nil {
		query = url.Values{}
	}

	var bodyBytes []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("restclient: marshal body: %w", err)
		}
		bodyBytes = b
		r.SetBody(bodyBytes)
	}

	if req.Signed {
		signed, err := c.signer.Sign(req.Method, req.Path, query.Encode(), string(bodyBytes), req.NowMs, c.creds.APIKey, c.creds.Secret, c.creds.Passphrase)
		if err != nil {
			return &errs.AuthError{Exchange: string(c.exchange), Err: err}
		}
		for k, v := range signed.Headers {
			r.SetHeader(k, v)
		}
		for k, v := range signed.Params {
			query.Set(k, v)
		}
	}
	if len(query) > 0 {
		r.SetQueryParamsFromValues(query)
	}

	if result != nil {
		r.SetResult(result)
	}
	var errBody errorBody
	r.SetError(&errBody)

	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		return fmt.Errorf("restclient: %s %s: %w", req.Method, req.Path, err)
	}

	if resp.StatusCode() >= 400 {
		venueErr := &errs.VenueError{
			Exchange: string(c.exchange),
			Code:     errBody.Code,
			Message:  errBody.Message,
		}
		if venueErr.Message == "" {
			venueErr.Message = resp.String()
		}
		return venueErr
	}
	return nil
}
