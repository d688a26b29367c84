package database

import "time"

// MailboxTxFn is the read-modify-write body of a mailbox transaction.
// It is called with the current stored entry (nil if absent) and the
// server-assigned transaction time, and returns the entry to write.
// Returning a nil entry commits nothing, which keeps operations such
// as resetting an absent counter idempotent. The function must be
// pure: the store may retry it against a fresher read on conflict.
type MailboxTxFn func(current *MailboxEntry, now time.Time) (*MailboxEntry, error)

type ChatRepository interface {
	Ping() error
	AppendMessage(params AppendMessageParams) (Message, error)
	ListRecentMessages(roomId string, limit int) ([]Message, error)
	ListMessagesAfter(roomId string, afterSeq int64) ([]Message, error)
	UpdateMailboxEntry(ownerId, roomId string, fn MailboxTxFn) (*MailboxEntry, error)
	ListMailboxEntries(ownerId string) ([]MailboxEntry, error)
	GetProfile(userId string) (Profile, error)
	UpsertProfile(p Profile) (Profile, error)
}
