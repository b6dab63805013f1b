package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pneumoscan/pneumoscan/internal/auth"
	"github.com/pneumoscan/pneumoscan/internal/metrics"
	"github.com/pneumoscan/pneumoscan/internal/model"
)

type stubVerifier struct {
	tokens map[string]*model.Identity
}

func (s stubVerifier) Verify(_ context.Context, raw string) (*model.Identity, error) {
	if raw == "" {
		return nil, auth.ErrMissingToken
	}
	id, ok := s.tokens[raw]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return id, nil
}

func newAuthHandler(t *testing.T, recorder metrics.Recorder) http.Handler {
	t.Helper()
	verifier := stubVerifier{tokens: map[string]*model.Identity{
		"good": {Username: "alice", Email: "alice@example.com"},
	}}
	mw := Auth(AuthConfig{Verifier: verifier, Recorder: recorder})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(auth.UsernameFromContext(r.Context())))
	}))
}

func TestAuth_ValidToken(t *testing.T) {
	t.Parallel()
	handler := newAuthHandler(t, nil)

	for _, header := range []string{"Bearer good", "bearer good", "  Bearer   good  "} {
		req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, header)
		require.Equal(t, "alice", rec.Body.String(), header)
	}
}

func TestAuth_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		header      string
		wantMessage string
		wantMissing uint64
		wantInvalid uint64
	}{
		{"no header", "", "Missing bearer token", 1, 0},
		{"basic scheme", "Basic Zm9vOmJhcg==", "Missing bearer token", 1, 0},
		{"bearer without token", "Bearer", "Missing bearer token", 1, 0},
		{"unknown token", "Bearer forged", "Invalid or expired token", 0, 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			recorder := metrics.NewInMemory()
			handler := newAuthHandler(t, recorder)

			req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "UNAUTHORIZED", body.Code)
			require.Equal(t, tt.wantMessage, body.Message)

			snap := recorder.Snapshot()
			require.Equal(t, tt.wantMissing, snap.AuthFailuresMissing)
			require.Equal(t, tt.wantInvalid, snap.AuthFailuresInvalid)
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"BEARER abc", "abc"},
		{"Token abc", ""},
		{"Bearerabc", ""},
		{"", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tt.header)
		require.Equal(t, tt.want, extractBearerToken(req), tt.header)
	}
}
