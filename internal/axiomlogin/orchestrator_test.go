package axiomlogin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailReader struct {
	code  string
	found bool
	err   error
}

func (f *fakeMailReader) GetAxiomOTP(ctx context.Context, userEmail string) (string, bool, error) {
	return f.code, f.found, f.err
}

func (f *fakeMailReader) GetAxiomOTPWithin(ctx context.Context, userEmail string, maxAgeSeconds, windowMinutes int) (string, bool, error) {
	return f.code, f.found, f.err
}

func TestOrchestrator_Login_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login-password-v2":
			json.NewEncoder(w).Encode(map[string]string{"otpJwtToken": "jwt-123"})
		case "/login-otp":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["code"] != "111111" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"accessToken":  "access-abc",
				"refreshToken": "refresh-abc",
				"userId":       "user-1",
			})
		}
	}))
	defer srv.Close()

	client := NewClient([]string{srv.URL})
	orch := NewOrchestrator(client, zerolog.Nop())

	tokens, err := orch.Login(context.Background(), "trader@example.com", "password", "111111", &fakeMailReader{})
	require.NoError(t, err)
	assert.Equal(t, "access-abc", tokens.AccessToken)
	assert.Equal(t, "refresh-abc", tokens.RefreshToken)
	assert.Equal(t, "user-1", tokens.UserID)
}

func TestOrchestrator_Login_Step1RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"too many requests"}`))
	}))
	defer srv.Close()

	client := NewClient([]string{srv.URL})
	orch := NewOrchestrator(client, zerolog.Nop())

	_, err := orch.Login(context.Background(), "trader@example.com", "password", "111111", &fakeMailReader{})
	require.Error(t, err)
}
