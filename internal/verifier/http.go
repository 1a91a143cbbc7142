package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"veriq/internal/event/models"
	"veriq/pkg/platform/sentinel"
)

// HTTPClient delegates verification to the external verifier service over
// HTTP. The heavy lifting (driving the government portal) happens on the
// other side; this client only ships the input and maps the response.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPTimeout bounds every verification request. Verification involves a
// browser session on the remote side, so the default is generous.
func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// NewHTTP constructs a verifier client against the given base URL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type verifyRequest struct {
	UserID         string `json:"userId"`
	IdentityNumber string `json:"identityNumber"`
	DocumentNumber string `json:"documentNumber"`
	DocumentID     string `json:"documentId"`
	Category       string `json:"category"`
}

type verifyResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Files   []string `json:"files"`
}

// Verify posts the input to the verifier service. A 2xx response carries the
// verification outcome as a value; anything else is an infrastructure error.
func (c *HTTPClient) Verify(ctx context.Context, in models.VerificationInput) (Result, error) {
	payload, err := json.Marshal(verifyRequest{
		UserID:         in.UserID,
		IdentityNumber: in.IdentityNumber.String(),
		DocumentNumber: in.DocumentNumber.String(),
		DocumentID:     in.DocumentID,
		Category:       string(in.Category),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal verify payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/verify", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("verifier request: %v: %w", err, sentinel.ErrUnavailable)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("verifier returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode verify response: %w", err)
	}
	return Result{Success: out.Success, Message: out.Message, Files: out.Files}, nil
}
