package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"veriq/internal/event/models"
	"veriq/pkg/platform/sentinel"
)

type HTTPVerifierSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *HTTPVerifierSuite) SetupTest() {
	s.ctx = context.Background()
}

func TestHTTPVerifierSuite(t *testing.T) {
	suite.Run(t, new(HTTPVerifierSuite))
}

func (s *HTTPVerifierSuite) input() models.VerificationInput {
	return models.VerificationInput{
		UserID:         "5f6e7a12-9c1b-4f7e-bb6e-0a4c2d8f1e33",
		IdentityNumber: models.MustIdentityNumber("23227276102"),
		DocumentNumber: models.MustDocumentNumber("AB123"),
		DocumentID:     "edu-1",
		Category:       models.CategoryEducation,
	}
}

func (s *HTTPVerifierSuite) TestVerifyMapsResponse() {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Equal("/api/verify", r.URL.Path)
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "document verified",
			"files":   []string{"report.pdf"},
		})
	}))
	defer server.Close()

	result, err := NewHTTP(server.URL).Verify(s.ctx, s.input())
	s.Require().NoError(err)
	s.True(result.Success)
	s.Equal("document verified", result.Message)
	s.Equal([]string{"report.pdf"}, result.Files)

	s.Equal("23227276102", received["identityNumber"])
	s.Equal("AB123", received["documentNumber"])
	s.Equal("education", received["category"])
}

func (s *HTTPVerifierSuite) TestVerifyFailureIsAValue() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "document not found on portal",
		})
	}))
	defer server.Close()

	result, err := NewHTTP(server.URL).Verify(s.ctx, s.input())
	s.Require().NoError(err)
	s.False(result.Success)
	s.Equal("document not found on portal", result.Message)
}

func (s *HTTPVerifierSuite) TestVerifyInfrastructureErrors() {
	s.Run("non-2xx status", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := NewHTTP(server.URL).Verify(s.ctx, s.input())
		s.Require().ErrorIs(err, sentinel.ErrUnavailable)
	})

	s.Run("unreachable service", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		_, err := NewHTTP(server.URL).Verify(s.ctx, s.input())
		s.Require().ErrorIs(err, sentinel.ErrUnavailable)
	})
}
