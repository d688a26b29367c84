package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/moimhealth/moim-chat/internal/chat"
	"github.com/moimhealth/moim-chat/internal/types"
)

func (g *ChatGateway) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Printf("json encode: %v", err)
	}
}

func (g *ChatGateway) apiError(w http.ResponseWriter, err error) {
	var errResp *ApiError
	switch {
	case errors.Is(err, chat.ErrInvalidIdentifier), errors.Is(err, chat.ErrEmptyMessage):
		errResp = NewBadRequestError(err)
	case errors.Is(err, chat.ErrUnauthenticated):
		errResp = NewUnauthorizedError()
	case errors.Is(err, sql.ErrNoRows):
		errResp = NewNotFoundError()
	default:
		errResp = NewServiceUnavailableError(err)
	}

	if errResp.StatusCode >= http.StatusInternalServerError {
		g.log.Printf("request failed: %v", err)
	}
	g.writeJson(w, errResp.StatusCode, errResp)
}

func (g *ChatGateway) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := g.db.Ping(); err != nil {
		g.log.Printf("health check: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// getMailbox returns the caller's mailbox entries, most recently
// active room first, with the unread total the notifications surface
// shows.
func (g *ChatGateway) getMailbox(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	entries, err := g.mailbox.Snapshot(r.Context(), userId)
	if err != nil {
		g.apiError(w, err)
		return
	}

	total := 0
	for _, entry := range entries {
		total += entry.UnreadCount[userId]
	}

	g.writeJson(w, http.StatusOK, struct {
		Rooms       []types.MailboxEntry `json:"rooms"`
		TotalUnread int                  `json:"total_unread"`
	}{Rooms: entries, TotalUnread: total})
}

// getMessages returns the recent history of the caller's conversation
// with the target user, ascending.
func (g *ChatGateway) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	targetId := r.URL.Query().Get("target_id")
	roomId, err := chat.ComputeRoomID(userId, targetId)
	if err != nil {
		g.apiError(w, err)
		return
	}

	limit := chat.DefaultBackfillLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			errResp := NewBadRequestError(errors.New("limit must be a positive integer"))
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := g.msgs.Recent(r.Context(), roomId, limit)
	if err != nil {
		g.apiError(w, err)
		return
	}

	g.writeJson(w, http.StatusOK, struct {
		RoomId   string          `json:"room_id"`
		Messages []types.Message `json:"messages"`
	}{RoomId: roomId, Messages: messages})
}

func (g *ChatGateway) getProfile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if targetId := r.URL.Query().Get("uid"); targetId != "" {
		userId = targetId
	}

	profile, err := g.db.GetProfile(userId)
	if err != nil {
		g.apiError(w, err)
		return
	}

	g.writeJson(w, http.StatusOK, types.UserProfile{
		Id:       profile.UserId,
		Nickname: profile.Nickname,
		PhotoURL: profile.PhotoURL,
	})
}

func (g *ChatGateway) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	profile, err := g.db.GetProfile(userId)
	if err != nil {
		g.apiError(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(g.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Println("error upgrading connection:", err)
		return
	}

	self := types.UserProfile{
		Id:       profile.UserId,
		Nickname: profile.Nickname,
		PhotoURL: profile.PhotoURL,
	}

	session := chat.NewSessionManager(g.log, g.msgs, g.mailbox, g.stats)
	client, err := newClient(g, self, conn, session)
	if err != nil {
		g.log.Println("error starting session:", err)
		conn.Close()
		return
	}

	go client.write()
	go client.read()
}
