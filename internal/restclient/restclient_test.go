package restclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/ratelimit"
	"github.com/gateway/cex-gateway/internal/retry"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/errs"
	"github.com/gateway/cex-gateway/pkg/types"
)

type noopSigner struct{}

func (noopSigner) Sign(method, path, query, body string, tsMs int64, apiKey, secret, passphrase string) (venue.SignedRequest, error) {
	return venue.SignedRequest{Headers: map[string]string{"X-Signed": "1"}}, nil
}

func newTestClient(ts *httptest.Server) *Client {
	limiter := ratelimit.New()
	retryMgr := retry.New(retry.Config{MaxRetries: 2, DelayInitialMs: 1, DelayMaxMs: 5, BackoffFactor: 2}, func(err error) bool { return false })
	return New(Config{Timeout: 2 * time.Second}, types.ExchangeBinance, ts.URL, noopSigner{}, Credentials{APIKey: "k", Secret: "s"}, limiter, retryMgr, slog.Default())
}

type accountResult struct {
	Balance string `json:"balance"`
}

func TestDoDecodesSuccessResponse(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("X-Signed"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(accountResult{Balance: "100"})
	}))
	defer ts.Close()

	c := newTestClient(ts)
	var result accountResult
	err := Do(context.Background(), c, Request{Method: http.MethodGet, Path: "/account", Signed: true, RateLimitKey: "account"}, &result)
	require.NoError(t, err)
	assert.Equal(t, "100", result.Balance)
}

func TestDoReturnsVenueErrorOn4xx(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"code": "400", "message": "bad symbol"})
	}))
	defer ts.Close()

	c := newTestClient(ts)
	var result accountResult
	err := Do(context.Background(), c, Request{Method: http.MethodGet, Path: "/account", RateLimitKey: "account"}, &result)

	var venueErr *errs.VenueError
	require.ErrorAs(t, err, &venueErr)
	assert.Equal(t, "bad symbol", venueErr.Message)
}

func TestDoRetriesOn5xxWhenPredicateAllows(t *testing.T) {
	t.Parallel()

	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"code": "500", "message": "oops"})
			return
		}
		json.NewEncoder(w).Encode(accountResult{Balance: "7"})
	}))
	defer ts.Close()

	limiter := ratelimit.New()
	retryMgr := retry.New(retry.Config{MaxRetries: 3, DelayInitialMs: 1, DelayMaxMs: 2, BackoffFactor: 1}, DefaultRetriablePredicate(alwaysRetriablePlugin{}))
	c := New(Config{Timeout: 2 * time.Second}, types.ExchangeBinance, ts.URL, noopSigner{}, Credentials{}, limiter, retryMgr, slog.Default())

	var result accountResult
	err := Do(context.Background(), c, Request{Method: http.MethodGet, Path: "/account", RateLimitKey: "account"}, &result)
	require.NoError(t, err)
	assert.Equal(t, "7", result.Balance)
	assert.Equal(t, 2, attempts)
}

type alwaysRetriablePlugin struct{}

func (alwaysRetriablePlugin) Exchange() types.Exchange             { return types.ExchangeBinance }
func (alwaysRetriablePlugin) BaseURL(at types.AccountType) string  { return "" }
func (alwaysRetriablePlugin) WSURL(at types.AccountType) string    { return "" }
func (alwaysRetriablePlugin) Signer() venue.Signer                 { return noopSigner{} }
func (alwaysRetriablePlugin) RateLimitKey(endpoint string) string  { return "default" }
func (alwaysRetriablePlugin) RetriableCode(code string) bool       { return true }
func (alwaysRetriablePlugin) Codec(at types.AccountType) wsclient.Codec {
	return nil
}
