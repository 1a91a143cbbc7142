package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"veriq/internal/event/models"
	"veriq/internal/verifier"
	"veriq/pkg/platform/sentinel"
)

// fakeBackend is an httptest stand-in for the document backend: login plus
// per-category update endpoints.
type fakeBackend struct {
	server *httptest.Server

	logins       atomic.Int32
	updates      atomic.Int32
	lastUpdate   atomic.Value // map[string]any
	failUpdates  atomic.Int32 // how many updates to reject with 500 first
	reject401    atomic.Bool  // reject the next update with 401
	token        string
	tokenFactory func() string
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{token: "test-token"}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/Auth/Login", func(w http.ResponseWriter, r *http.Request) {
		b.logins.Add(1)
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email != "svc@example.com" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		token := b.token
		if b.tokenFactory != nil {
			token = b.tokenFactory()
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": map[string]string{"token": token},
		})
	})

	update := func(w http.ResponseWriter, r *http.Request) {
		if b.reject401.Swap(false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if b.failUpdates.Load() > 0 {
			b.failUpdates.Add(-1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.lastUpdate.Store(body)
		b.updates.Add(1)
		w.WriteHeader(http.StatusOK)
	}
	mux.HandleFunc("/api/UserEducation/UpdateDocumentVerification", update)
	mux.HandleFunc("/api/UserSecurity/UpdateDocumentVerification", update)
	mux.HandleFunc("/api/UserCv/UpdateDocumentVerification", update)

	b.server = httptest.NewServer(mux)
	return b
}

type NotifierSuite struct {
	suite.Suite
	backend *fakeBackend
	client  *HTTPClient
	ctx     context.Context
}

func (s *NotifierSuite) SetupTest() {
	s.backend = newFakeBackend()
	s.client = NewHTTP(s.backend.server.URL, "svc@example.com", "secret",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	s.ctx = context.Background()
}

func (s *NotifierSuite) TearDownTest() {
	s.backend.server.Close()
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) newEvent(eventType models.EventType) *models.Event {
	event, err := models.NewEvent(
		"5f6e7a12-9c1b-4f7e-bb6e-0a4c2d8f1e33",
		models.MustIdentityNumber("23227276102"),
		eventType,
		map[string]any{"id": "doc-7", "documentNumber": "AB123"},
		models.MustDocumentNumber("AB123"),
	)
	s.Require().NoError(err)
	event.ID = 1
	return event
}

func (s *NotifierSuite) TestPing() {
	s.Require().NoError(s.client.Ping(s.ctx))

	s.backend.server.Close()
	err := s.client.Ping(s.ctx)
	s.Require().ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *NotifierSuite) TestNotifyDeliversPerCategoryUpdate() {
	event := s.newEvent(models.EventTypeEducationDocumentCreated)
	result := verifier.Result{Success: true, Message: "verified against portal"}

	s.Require().NoError(s.client.Notify(s.ctx, event, result))
	s.Equal(int32(1), s.backend.updates.Load())
	s.Equal(int32(1), s.backend.logins.Load())

	body := s.backend.lastUpdate.Load().(map[string]any)
	s.Equal(event.UserID, body["userId"])
	s.Equal("doc-7", body["educationId"])
	s.Equal("AB123", body["documentNumber"])
	s.Equal(true, body["documentVerified"])
	s.Equal("verified against portal", body["verificationDescription"])
	s.NotEmpty(body["verifiedAt"])
}

func (s *NotifierSuite) TestNotifyReusesCachedToken() {
	event := s.newEvent(models.EventTypeSecurityDocumentCreated)
	result := verifier.Result{Success: true}

	s.Require().NoError(s.client.Notify(s.ctx, event, result))
	s.Require().NoError(s.client.Notify(s.ctx, event, result))

	s.Equal(int32(2), s.backend.updates.Load())
	s.Equal(int32(1), s.backend.logins.Load())
}

func (s *NotifierSuite) TestNotifyReauthenticatesAfter401() {
	event := s.newEvent(models.EventTypeCvCreated)
	result := verifier.Result{Success: true}

	// Warm the token cache, then have the backend revoke it once.
	s.Require().NoError(s.client.Notify(s.ctx, event, result))
	s.backend.reject401.Store(true)

	s.Require().NoError(s.client.Notify(s.ctx, event, result))
	s.Equal(int32(2), s.backend.logins.Load())
	s.Equal(int32(2), s.backend.updates.Load())
}

func (s *NotifierSuite) TestNotifyRetriesTransientFailures() {
	event := s.newEvent(models.EventTypeEducationDocumentCreated)
	s.backend.failUpdates.Store(2)

	s.Require().NoError(s.client.Notify(s.ctx, event, verifier.Result{Success: true}))
	s.Equal(int32(1), s.backend.updates.Load())
}

func (s *NotifierSuite) TestNotifyGivesUpAfterMaxAttempts() {
	event := s.newEvent(models.EventTypeEducationDocumentCreated)
	s.backend.failUpdates.Store(99)

	err := s.client.Notify(s.ctx, event, verifier.Result{Success: true})
	s.Require().Error(err)
	s.Zero(s.backend.updates.Load())
}

func (s *NotifierSuite) TestExpiredJWTForcesReauthentication() {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString([]byte("secret"))
	s.Require().NoError(err)
	s.backend.tokenFactory = func() string { return signed }

	event := s.newEvent(models.EventTypeEducationDocumentCreated)
	result := verifier.Result{Success: true}

	s.Require().NoError(s.client.Notify(s.ctx, event, result))
	s.Require().NoError(s.client.Notify(s.ctx, event, result))

	// Each delivery re-authenticates because the cached token is expired.
	s.GreaterOrEqual(s.backend.logins.Load(), int32(2))
}
