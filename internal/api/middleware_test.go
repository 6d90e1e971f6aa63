package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-roomrelay/internal/testutil"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &RelayApp{
		log: slog.New(slog.NewTextHandler(buf, nil)),
	}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")

	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
	assert.Equal(t, "internal server error", apiErr.Message)
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &RelayApp{log: testutil.TestLogger(t)}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	app.errorHandler(okHandler).ServeHTTP(rr, req)

	assert.True(t, called, "expected next handler to be called")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Empty(t, rr.Header().Get("Connection"))
}

func TestAuthMiddleware(t *testing.T) {
	tcases := []struct {
		name       string
		signingKey []byte
		target     string
		cookie     string
		expectCode int
		expectUser types.User
	}{
		{
			name:       "query identity",
			target:     "/ws?userId=u1&username=alice",
			expectCode: http.StatusOK,
			expectUser: types.User{Id: "u1", Username: "alice"},
		},
		{
			name:       "query identity without username",
			target:     "/ws?userId=u1",
			expectCode: http.StatusOK,
			expectUser: types.User{Id: "u1", Username: "u1"},
		},
		{
			name:       "missing identity",
			target:     "/ws",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "token in query",
			signingKey: testSigningKey,
			target:     "/ws?token=" + signToken(t, jwt.MapClaims{"user-id": "u2", "username": "bob"}),
			expectCode: http.StatusOK,
			expectUser: types.User{Id: "u2", Username: "bob"},
		},
		{
			name:       "numeric user id claim",
			signingKey: testSigningKey,
			cookie:     signToken(t, jwt.MapClaims{"user-id": 42}),
			target:     "/ws",
			expectCode: http.StatusOK,
			expectUser: types.User{Id: "42", Username: "42"},
		},
		{
			name:       "cookie wins over query",
			signingKey: testSigningKey,
			cookie:     signToken(t, jwt.MapClaims{"user-id": "u3", "username": "carol"}),
			target:     "/ws?token=" + signToken(t, jwt.MapClaims{"user-id": "u2"}),
			expectCode: http.StatusOK,
			expectUser: types.User{Id: "u3", Username: "carol"},
		},
		{
			name:       "query identity ignored with signing key",
			signingKey: testSigningKey,
			target:     "/ws?userId=u1",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			signingKey: testSigningKey,
			target:     "/ws?token=not-a-token",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "token signed with another key",
			signingKey: []byte("other-key"),
			target:     "/ws?token=" + signToken(t, jwt.MapClaims{"user-id": "u2"}),
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "token without user id",
			signingKey: testSigningKey,
			target:     "/ws?token=" + signToken(t, jwt.MapClaims{"username": "nobody"}),
			expectCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := &RelayApp{log: testutil.TestLogger(t), signingKey: tc.signingKey}

			var got types.User
			next := func(w http.ResponseWriter, r *http.Request) {
				got, _ = UserFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}

			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: tc.cookie})
			}
			rr := httptest.NewRecorder()

			app.authMiddleware(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectCode, rr.Code)
			assert.Equal(t, tc.expectUser, got)
			if tc.expectCode == http.StatusOK {
				assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
			}
		})
	}
}

func TestUserFromContext(t *testing.T) {
	_, ok := UserFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok, "expected no user on a bare context")

	user := types.User{Id: "u1", Username: "alice"}
	got, ok := UserFromContext(WithUser(t.Context(), user))
	assert.True(t, ok)
	assert.Equal(t, user, got)
}
