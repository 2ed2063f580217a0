package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/peershare/rental-bookings/internal/domain"
)

// Client talks to the processor's REST API. Declines come back as
// domain.ErrPaymentDeclined; timeouts, connection failures, 429 and
// 5xx responses come back as domain.ErrPaymentTransient so the
// orchestrator retries them under the same idempotency key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	return c.post(ctx, "/v1/authorizations", req.IdempotencyKey, req)
}

func (c *Client) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	return c.post(ctx, "/v1/captures", req.IdempotencyKey, req)
}

func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	return c.post(ctx, "/v1/refunds", req.IdempotencyKey, req)
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Result, error) {
	return c.post(ctx, "/v1/transfers", req.IdempotencyKey, req)
}

func (c *Client) Void(ctx context.Context, req VoidRequest) (*Result, error) {
	return c.post(ctx, "/v1/voids", req.IdempotencyKey, req)
}

func (c *Client) GetAuthorization(ctx context.Context, reference string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/authorizations/"+reference, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(domain.ErrPaymentTransient, err.Error())
	}
	defer resp.Body.Close()
	return decodeResult(resp)
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload interface{}) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(domain.ErrPaymentTransient, err.Error())
	}
	defer resp.Body.Close()
	return decodeResult(resp)
}

func decodeResult(resp *http.Response) (*Result, error) {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		if result.Status == StatusDeclined {
			return nil, errors.Wrapf(domain.ErrPaymentDeclined, "reference %s", result.Reference)
		}
		return &result, nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.Wrap(domain.ErrPaymentDeclined, string(respBody))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Wrapf(domain.ErrPaymentTransient, "processor status %d", resp.StatusCode)
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.Newf("processor status %d: %s", resp.StatusCode, string(respBody))
	}
}
