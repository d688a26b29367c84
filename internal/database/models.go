package database

import "time"

type Profile struct {
	UserId    string
	Nickname  string
	PhotoURL  string
	UpdatedAt time.Time
}

type Message struct {
	Seq        int64
	ExternalId string
	RoomId     string
	SenderId   string
	Content    string
	CreatedAt  time.Time
}

type Participant struct {
	Nickname string `json:"nickname"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// MailboxEntry is the stored form of one user's summary record for one
// room. Participants and Unread are persisted as jsonb columns.
type MailboxEntry struct {
	OwnerId         string
	RoomId          string
	Participants    map[string]Participant
	LastMessageText string
	LastMessageAt   time.Time
	Unread          map[string]int
	UpdatedAt       time.Time
}

type AppendMessageParams struct {
	RoomId   string
	SenderId string
	Content  string
}
