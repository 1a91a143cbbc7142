package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"veriq/internal/event/models"
	"veriq/internal/verifier"
	"veriq/pkg/platform/sentinel"
)

// tokenExpirySlack refreshes the bearer token this long before it expires so
// an update request never races the expiry.
const tokenExpirySlack = 30 * time.Second

// updateEndpoints maps a document category to the backend's per-category
// update route and the JSON field carrying the document id.
var updateEndpoints = map[models.DocumentCategory]struct {
	path    string
	idField string
}{
	models.CategoryEducation: {path: "/api/UserEducation/UpdateDocumentVerification", idField: "educationId"},
	models.CategorySecurity:  {path: "/api/UserSecurity/UpdateDocumentVerification", idField: "securityId"},
	models.CategoryCv:        {path: "/api/UserCv/UpdateDocumentVerification", idField: "cvId"},
}

// HTTPClient notifies the backend REST API about verification outcomes. It
// authenticates with email/password, caches the bearer token until shortly
// before the JWT's exp claim, and applies the retry policy to every delivery.
type HTTPClient struct {
	baseURL  string
	email    string
	password string
	client   *http.Client
	logger   *slog.Logger
	retry    RetryPolicy
	rng      *rand.Rand

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPTimeout bounds every backend request.
func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithRetryPolicy replaces the default delivery retry schedule.
func WithRetryPolicy(policy RetryPolicy) HTTPOption {
	return func(c *HTTPClient) {
		c.retry = policy
	}
}

// WithLogger sets a logger for delivery diagnostics.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTP constructs a backend notifier client.
func NewHTTP(baseURL, email, password string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
		retry:    DefaultRetryPolicy(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Ping checks backend reachability via its health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend health check: %v: %w", err, sentinel.ErrUnavailable)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend health check returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	return nil
}

// Notify delivers the outcome for one event, retrying per the policy.
func (c *HTTPClient) Notify(ctx context.Context, event *models.Event, result verifier.Result) error {
	in, err := event.ToVerificationInput()
	if err != nil {
		return err
	}
	endpoint, ok := updateEndpoints[in.Category]
	if !ok {
		return fmt.Errorf("no update endpoint for category %q", in.Category)
	}

	body := map[string]any{
		"userId":                  in.UserID,
		endpoint.idField:          in.DocumentID,
		"documentNumber":          in.DocumentNumber.String(),
		"documentVerified":        result.Success,
		"verificationDescription": result.Message,
		"verifiedAt":              time.Now().UTC().Format(time.RFC3339),
	}

	return c.retry.Do(ctx, c.rng, func(ctx context.Context) error {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}
		if err := c.postJSON(ctx, c.baseURL+endpoint.path, token, body); err != nil {
			c.logger.WarnContext(ctx, "backend notification attempt failed",
				"event_id", event.ID,
				"category", string(in.Category),
				"error", err,
			)
			return err
		}
		return nil
	})
}

// ensureToken returns a cached bearer token, re-authenticating when the
// cached one is absent or about to expire.
func (c *HTTPClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.tokenExp.IsZero() || time.Until(c.tokenExp) > tokenExpirySlack) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/Auth/Login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend login: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend login returned %d", resp.StatusCode)
	}

	var loginResp struct {
		AccessToken struct {
			Token string `json:"token"`
		} `json:"accessToken"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	token := loginResp.AccessToken.Token
	if token == "" {
		token = loginResp.Token
	}
	if token == "" {
		return "", fmt.Errorf("backend login response carried no token")
	}

	c.token = token
	c.tokenExp = tokenExpiry(token)
	return c.token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client only needs to know when to re-authenticate, not to trust the token.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *HTTPClient) postJSON(ctx context.Context, url, token string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal update payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send update: %w", err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		// Token may have been revoked server-side; drop it so the next
		// attempt re-authenticates.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return fmt.Errorf("update rejected: unauthorized")
	default:
		return fmt.Errorf("update returned %d", resp.StatusCode)
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
