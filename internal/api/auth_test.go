package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moimhealth/moim-chat/internal/database"
)

func Test_authMiddleware(t *testing.T) {
	g := newTestGateway(t, &database.MockChatRepository{})

	validToken, err := IssueToken(testSigningKey, "alice", time.Minute)
	require.NoError(t, err)

	expiredToken, err := IssueToken(testSigningKey, "alice", -time.Minute)
	require.NoError(t, err)

	foreignToken, err := IssueToken([]byte("some-other-key"), "alice", time.Minute)
	require.NoError(t, err)

	tcases := []struct {
		name           string
		cookie         *http.Cookie
		wantStatus     int
		wantUserId     string
		wantNextCalled bool
	}{
		{
			name:           "valid token",
			cookie:         &http.Cookie{Name: tokenCookieKey, Value: validToken},
			wantStatus:     http.StatusOK,
			wantUserId:     "alice",
			wantNextCalled: true,
		},
		{
			name:       "missing cookie",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			cookie:     &http.Cookie{Name: tokenCookieKey, Value: expiredToken},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "token signed with another key",
			cookie:     &http.Cookie{Name: tokenCookieKey, Value: foreignToken},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			cookie:     &http.Cookie{Name: tokenCookieKey, Value: "not-a-jwt"},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var nextCalled bool
			var gotUserId string
			next := func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				gotUserId, _ = UserId(r.Context())
				w.WriteHeader(http.StatusOK)
			}

			req := httptest.NewRequest(http.MethodGet, "/api/mailbox", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}

			rr := httptest.NewRecorder()
			g.authMiddleware(next)(rr, req)

			assert.Equalf(t, tc.wantStatus, rr.Code, "expected status code to be %d", tc.wantStatus)
			assert.Equalf(t, tc.wantNextCalled, nextCalled, "expected next handler called to be %v", tc.wantNextCalled)
			if tc.wantNextCalled {
				assert.Equalf(t, tc.wantUserId, gotUserId, "expected user id from token")
				assert.NotEmptyf(t, rr.Header().Get("Cache-Control"), "expected cache control header")
			}
		})
	}
}

func TestIssueToken_roundTrip(t *testing.T) {
	g := newTestGateway(t, &database.MockChatRepository{})

	token, err := IssueToken(testSigningKey, "carol", time.Minute)
	require.NoError(t, err)

	userId, err := g.extractUserIdFromToken(token)
	require.NoError(t, err)
	assert.Equalf(t, "carol", userId, "expected user id claim to round trip")
}
