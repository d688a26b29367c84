package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moimhealth/moim-chat/internal/chat"
	"github.com/moimhealth/moim-chat/internal/config"
	"github.com/moimhealth/moim-chat/internal/database"
	"github.com/moimhealth/moim-chat/internal/stats"
	"github.com/moimhealth/moim-chat/internal/testutil"
	"github.com/moimhealth/moim-chat/internal/types"
)

var testSigningKey = []byte("test-signing-key")

func newTestGateway(t *testing.T, repo database.ChatRepository) *ChatGateway {
	t.Helper()

	logger := testutil.TestLogger(t)
	statsProvider := &stats.MockStatsUpdater{}
	notifier := &database.MockChangeNotifier{}
	msgs := chat.NewMessageLog(logger, repo, notifier, statsProvider)
	mailbox := chat.NewMailboxLedger(logger, repo, notifier, statsProvider)

	return NewChatGateway(http.NewServeMux(), logger, repo, msgs, mailbox, statsProvider, &config.Config{
		SigningKey: testSigningKey,
	})
}

func authedRequest(method, target, userId string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(WithUserId(req.Context(), userId))
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			g := newTestGateway(t, mockRepo)
			rr := httptest.NewRecorder()
			g.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if tc.mockErr != nil {
				assert.Equalf(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equalf(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equalf(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_getMailbox(t *testing.T) {
	lastMessageAt := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns rooms with unread total", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListMailboxEntries", "alice").Return([]database.MailboxEntry{
			{
				OwnerId: "alice",
				RoomId:  "alice_bob",
				Participants: map[string]database.Participant{
					"alice": {Nickname: "Alice"},
					"bob":   {Nickname: "Bob"},
				},
				LastMessageText: "see you there",
				LastMessageAt:   lastMessageAt,
				Unread:          map[string]int{"alice": 2},
			},
			{
				OwnerId: "alice",
				RoomId:  "alice_carol",
				Participants: map[string]database.Participant{
					"alice": {Nickname: "Alice"},
					"carol": {Nickname: "Carol"},
				},
				LastMessageText: "thanks!",
				LastMessageAt:   lastMessageAt.Add(-time.Hour),
				Unread:          map[string]int{"alice": 1, "carol": 4},
			},
		}, nil).Once()

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getMailbox(rr, authedRequest(http.MethodGet, "/api/mailbox", "alice"))

		require.Equalf(t, http.StatusOK, rr.Code, "expected status code to be 200")

		var body struct {
			Rooms       []types.MailboxEntry `json:"rooms"`
			TotalUnread int                  `json:"total_unread"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))

		require.Lenf(t, body.Rooms, 2, "expected two rooms")
		assert.Equalf(t, "alice_bob", body.Rooms[0].Id, "expected most recent room first")
		assert.Equalf(t, "Bob", body.Rooms[0].Participants["bob"].Nickname, "expected participant snapshot")
		assert.Equalf(t, "see you there", body.Rooms[0].LastMessage.Text, "expected last message preview")
		assert.Equalf(t, 3, body.TotalUnread, "expected total to sum only the caller's counters")
	})

	t.Run("backend failure", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListMailboxEntries", "alice").Return(nil, errors.New("db error")).Once()

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getMailbox(rr, authedRequest(http.MethodGet, "/api/mailbox", "alice"))

		assert.Equalf(t, http.StatusServiceUnavailable, rr.Code, "expected status code to be 503")
	})

	t.Run("missing user", func(t *testing.T) {
		g := newTestGateway(t, &database.MockChatRepository{})
		rr := httptest.NewRecorder()
		g.getMailbox(rr, httptest.NewRequest(http.MethodGet, "/api/mailbox", nil))

		assert.Equalf(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})
}

func Test_getMessages(t *testing.T) {
	t.Run("returns recent history ascending", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListRecentMessages", "alice_bob", chat.DefaultBackfillLimit).Return([]database.Message{
			{Seq: 1, ExternalId: "m1", RoomId: "alice_bob", SenderId: "alice", Content: "hi"},
			{Seq: 2, ExternalId: "m2", RoomId: "alice_bob", SenderId: "bob", Content: "hey"},
		}, nil).Once()

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?target_id=bob", "alice"))

		require.Equalf(t, http.StatusOK, rr.Code, "expected status code to be 200")

		var body struct {
			RoomId   string          `json:"room_id"`
			Messages []types.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))

		assert.Equalf(t, "alice_bob", body.RoomId, "expected canonical room id")
		require.Lenf(t, body.Messages, 2, "expected two messages")
		assert.Equalf(t, "m1", body.Messages[0].Id, "expected oldest message first")
		assert.Equalf(t, "m2", body.Messages[1].Id, "expected newest message last")
	})

	t.Run("honors limit param", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListRecentMessages", "alice_bob", 5).Return([]database.Message{}, nil).Once()

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?target_id=bob&limit=5", "alice"))

		assert.Equalf(t, http.StatusOK, rr.Code, "expected status code to be 200")
	})

	t.Run("missing target", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getMessages(rr, authedRequest(http.MethodGet, "/api/messages", "alice"))

		assert.Equalf(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("invalid limit", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?target_id=bob&limit=zero", "alice"))

		assert.Equalf(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})
}

func Test_getProfile(t *testing.T) {
	t.Run("returns own profile", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetProfile", "alice").Return(database.Profile{
			UserId:   "alice",
			Nickname: "Alice",
			PhotoURL: "https://cdn.example.com/alice.png",
		}, nil).Once()

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getProfile(rr, authedRequest(http.MethodGet, "/api/profile", "alice"))

		require.Equalf(t, http.StatusOK, rr.Code, "expected status code to be 200")

		var body types.UserProfile
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equalf(t, "alice", body.Id, "expected caller's profile")
		assert.Equalf(t, "Alice", body.Nickname, "expected nickname")
	})

	t.Run("returns another user's profile", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetProfile", "bob").Return(database.Profile{
			UserId:   "bob",
			Nickname: "Bob",
		}, nil).Once()

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getProfile(rr, authedRequest(http.MethodGet, "/api/profile?uid=bob", "alice"))

		require.Equalf(t, http.StatusOK, rr.Code, "expected status code to be 200")

		var body types.UserProfile
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equalf(t, "bob", body.Id, "expected target's profile")
	})

	t.Run("unknown user", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetProfile", "ghost").Return(database.Profile{}, sql.ErrNoRows).Once()

		g := newTestGateway(t, mockRepo)
		rr := httptest.NewRecorder()
		g.getProfile(rr, authedRequest(http.MethodGet, "/api/profile?uid=ghost", "alice"))

		assert.Equalf(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})
}
