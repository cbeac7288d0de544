package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/gridcert/ggo-engine/internal/model"
)

// client is the shared HTTP plumbing for both gateway clients: bearer-token
// auth, JSON bodies, client-side rate limiting, and status classification.
type client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(baseURL string, rps float64) client {
	return client{
		base:    baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// do performs one gateway call. 4xx responses (other than 408 and 429) are
// structural; everything else that fails is left transient so the task layer
// retries it.
func (c *client) do(ctx context.Context, token, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrStructural, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrStructural, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s: not found", ErrStructural, method, path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrStructural, method, path, resp.StatusCode, msg)
	case resp.StatusCode >= 300:
		return fmt.Errorf("gateway %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// HTTPMeasurements is the HTTP client for the measurement gateway.
type HTTPMeasurements struct {
	client
}

// NewHTTPMeasurements creates a measurement gateway client capped at rps
// outbound requests per second.
func NewHTTPMeasurements(baseURL string, rps float64) *HTTPMeasurements {
	return &HTTPMeasurements{client: newClient(baseURL, rps)}
}

func (m *HTTPMeasurements) GetConsumption(ctx context.Context, token, gsrn string, begin time.Time) (*model.Measurement, error) {
	q := url.Values{}
	q.Set("gsrn", gsrn)
	q.Set("begin", begin.UTC().Format(time.RFC3339))

	var resp struct {
		Measurement *model.Measurement `json:"measurement"`
	}
	if err := m.do(ctx, token, http.MethodGet, "/measurements/consumed", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Measurement, nil
}

func (m *HTTPMeasurements) GetRetiredAmount(ctx context.Context, token, gsrn, measurementAddress string) (int64, error) {
	q := url.Values{}
	q.Set("gsrn", gsrn)
	q.Set("measurement", measurementAddress)

	var resp struct {
		Amount int64 `json:"amount"`
	}
	if err := m.do(ctx, token, http.MethodGet, "/measurements/retired-amount", q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

// HTTPLedger is the HTTP client for the certificate ledger gateway.
type HTTPLedger struct {
	client
}

// NewHTTPLedger creates a ledger gateway client capped at rps outbound
// requests per second.
func NewHTTPLedger(baseURL string, rps float64) *HTTPLedger {
	return &HTTPLedger{client: newClient(baseURL, rps)}
}

func (l *HTTPLedger) GetCertificate(ctx context.Context, token, address string) (*model.Certificate, error) {
	q := url.Values{}
	q.Set("address", address)

	var resp struct {
		Certificate *model.Certificate `json:"certificate"`
	}
	if err := l.do(ctx, token, http.MethodGet, "/certificates", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Certificate == nil {
		return nil, fmt.Errorf("%w: certificate %s not in account", ErrStructural, address)
	}
	return resp.Certificate, nil
}

func (l *HTTPLedger) GetTransferredAmount(ctx context.Context, token, reference string, begin time.Time) (int64, error) {
	q := url.Values{}
	q.Set("reference", reference)
	q.Set("begin", begin.UTC().Format(time.RFC3339))

	var resp struct {
		Amount int64 `json:"amount"`
	}
	if err := l.do(ctx, token, http.MethodGet, "/certificates/transferred-amount", q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (l *HTTPLedger) GetStoredAmount(ctx context.Context, token string, begin time.Time) (int64, error) {
	q := url.Values{}
	q.Set("begin", begin.UTC().Format(time.RFC3339))

	var resp struct {
		Amount int64 `json:"amount"`
	}
	if err := l.do(ctx, token, http.MethodGet, "/certificates/stored-amount", q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (l *HTTPLedger) ListStoredCertificates(ctx context.Context, token string, from, to time.Time) ([]model.Certificate, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	var resp struct {
		Certificates []model.Certificate `json:"certificates"`
	}
	if err := l.do(ctx, token, http.MethodGet, "/certificates/stored", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Certificates, nil
}

func (l *HTTPLedger) ComposeSplit(ctx context.Context, token, certificateAddress string, req *SplitRequest) error {
	body := struct {
		Address     string         `json:"address"`
		Transfers   []TransferLine `json:"transfers"`
		Retirements []RetireLine   `json:"retirements"`
	}{
		Address:     certificateAddress,
		Transfers:   req.Transfers(),
		Retirements: req.Retirements(),
	}
	return l.do(ctx, token, http.MethodPost, "/certificates/compose", nil, body, nil)
}
