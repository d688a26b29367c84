package types

import (
	"time"
)

// UserProfile is the display identity of a user as supplied by the
// profile store. Chat never owns this data, it only snapshots it.
type UserProfile struct {
	Id       string `json:"uid"`
	Nickname string `json:"nickname"`
	PhotoURL string `json:"photo_url,omitempty"`
}

type Message struct {
	Id        string    `json:"id"`
	RoomId    string    `json:"room_id"`
	SenderId  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	// Seq is the server acceptance order of the message within its
	// room. Subscription cursors advance on it; it is not part of the
	// wire representation.
	Seq int64 `json:"-"`
}

type LastMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MailboxEntry is one user's denormalized summary of one room:
// participant snapshots, a last-message preview and per-user unread
// counters. Both participants keep their own copy of the same room.
type MailboxEntry struct {
	Id           string                 `json:"id"`
	Participants map[string]UserProfile `json:"participants"`
	LastMessage  LastMessage            `json:"last_message"`
	UnreadCount  map[string]int         `json:"unread_count,omitempty"`
}
