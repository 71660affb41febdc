package instamojo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
)

const serviceName = "instamojo"

// PaymentRequestResponse представляет ответ payment-requests от API Instamojo
type PaymentRequestResponse struct {
	Success        bool            `json:"success"`
	Message        json.RawMessage `json:"message,omitempty"`
	PaymentRequest PaymentRequest  `json:"payment_request"`
}

// PaymentRequest is the subset of an Instamojo payment request used here
type PaymentRequest struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	LongURL string `json:"longurl"`
	Purpose string `json:"purpose"`
	Amount  string `json:"amount"`
	// Metadata is either a JSON object or a JSON-encoded string of one
	Metadata json.RawMessage `json:"metadata"`
}

// Verify implements the payment verifier contract: it fetches the payment
// request and reports its status and metadata. A transport failure or a
// non-2xx answer is an error; an unpaid request is not.
func (c *Client) Verify(ctx context.Context, reference string) (domain.PaymentVerification, error) {
	c.log.Debug("Verifying Instamojo payment request: %s", reference)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+"/payment-requests/"+url.PathEscape(reference)+"/",
		nil,
	)
	if err != nil {
		return domain.PaymentVerification{}, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.do(req)
	if err != nil {
		return domain.PaymentVerification{}, err
	}

	metadata, err := decodeMetadata(resp.PaymentRequest.Metadata)
	if err != nil {
		// Unreadable metadata leaves the identity unknown, the payment is
		// then ignored rather than retried forever.
		c.log.Warnw("Instamojo payment request has unreadable metadata", "reference", reference, "error", err)
		metadata = map[string]string{}
	}

	c.log.Infow("Instamojo payment request verified", "reference", reference, "status", resp.PaymentRequest.Status)
	return domain.PaymentVerification{
		Reference: reference,
		Status:    resp.PaymentRequest.Status,
		Metadata:  metadata,
	}, nil
}

// CreateCheckout creates a payment request tagged with identity and returns
// the checkout URL the payer should be redirected to.
func (c *Client) CreateCheckout(ctx context.Context, identity string) (string, error) {
	c.log.Debug("Creating Instamojo payment request for identity: %s", identity)

	key := c.cfg.IdentityMetadataKey
	if key == "" {
		key = domain.DefaultIdentityMetadataKey
	}
	metadata, err := json.Marshal(map[string]string{key: identity})
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	formData := url.Values{}
	formData.Add("purpose", c.cfg.Purpose)
	formData.Add("amount", c.cfg.Amount)
	formData.Add("redirect_url", c.cfg.RedirectURL)
	formData.Add("webhook", c.cfg.WebhookURL)
	formData.Add("allow_repeated_payments", "false")
	formData.Add("metadata", string(metadata))

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/payment-requests/",
		strings.NewReader(formData.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setAuthHeaders(req)

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	if resp.PaymentRequest.LongURL == "" {
		return "", domain.NewExternalServiceError(serviceName, "missing_longurl", "payment request has no checkout URL", http.StatusOK, nil)
	}

	c.log.Infow("Instamojo payment request created", "id", resp.PaymentRequest.ID, "identity", identity)
	return resp.PaymentRequest.LongURL, nil
}

func (c *Client) do(req *http.Request) (*PaymentRequestResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewExternalServiceError(serviceName, "request_failed", "failed to execute request", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.NewExternalServiceError(serviceName, "read_failed", "failed to read response", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Errorw("Instamojo API error",
			"method", req.Method,
			"path", req.URL.Path,
			"status_code", resp.StatusCode,
			"body", truncate(string(body), 512),
		)
		return nil, domain.NewExternalServiceError(serviceName, "http_status", truncate(string(body), 512), resp.StatusCode, nil)
	}

	var parsed PaymentRequestResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.NewExternalServiceError(serviceName, "decode_failed", "failed to decode response", resp.StatusCode, err)
	}
	return &parsed, nil
}

// decodeMetadata flattens metadata into string values. Numbers keep their
// literal form so a numeric user id survives unchanged.
func decodeMetadata(raw json.RawMessage) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]string{}, nil
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("metadata string: %w", err)
		}
		if strings.TrimSpace(encoded) == "" {
			return map[string]string{}, nil
		}
		raw = json.RawMessage(encoded)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values map[string]interface{}
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("metadata object: %w", err)
	}

	out := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
