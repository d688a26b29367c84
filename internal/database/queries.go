package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teris-io/shortid"
)

const defaultMessageLimit = 50

func (db *PgChatRepository) AppendMessage(params AppendMessageParams) (Message, error) {
	sid, err := shortid.Generate()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}

	res := db.conn.QueryRow(
		"INSERT INTO messages (external_id, room_id, sender_id, content) "+
			"VALUES ($1, $2, $3, $4) RETURNING seq, external_id, room_id, sender_id, content, created_at",
		sid,
		params.RoomId,
		params.SenderId,
		params.Content,
	)

	var msg Message
	err = res.Scan(
		&msg.Seq,
		&msg.ExternalId,
		&msg.RoomId,
		&msg.SenderId,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgChatRepository) ListRecentMessages(roomId string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	rows, err := db.conn.Query(
		"SELECT seq, external_id, room_id, sender_id, content, created_at FROM ("+
			"SELECT seq, external_id, room_id, sender_id, content, created_at FROM messages "+
			"WHERE room_id = $1 ORDER BY seq DESC LIMIT $2"+
			") tail ORDER BY seq ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PgChatRepository) ListMessagesAfter(roomId string, afterSeq int64) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT seq, external_id, room_id, sender_id, content, created_at FROM messages "+
			"WHERE room_id = $1 AND seq > $2 ORDER BY seq ASC",
		roomId,
		afterSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Seq, &msg.ExternalId, &msg.RoomId, &msg.SenderId, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// UpdateMailboxEntry runs fn as a record-scoped read-modify-write
// transaction. A transaction-level advisory lock on (ownerId, roomId)
// serializes concurrent writers to the same record, so fn always sees
// the latest committed entry and unread increments cannot race a
// concurrent reset.
func (db *PgChatRepository) UpdateMailboxEntry(ownerId, roomId string, fn MailboxTxFn) (*MailboxEntry, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"SELECT pg_advisory_xact_lock(hashtextextended($1, 0))",
		ownerId+"/"+roomId,
	)
	if err != nil {
		return nil, err
	}

	var now time.Time
	if err = tx.QueryRow("SELECT now()").Scan(&now); err != nil {
		return nil, err
	}

	current, err := getMailboxEntryTx(tx, ownerId, roomId)
	if err != nil {
		return nil, err
	}

	entry, err := fn(current, now)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		// nothing to write
		err = tx.Commit()
		return current, err
	}

	entry.OwnerId = ownerId
	entry.RoomId = roomId
	entry.UpdatedAt = now

	var participants, unread []byte
	participants, err = json.Marshal(entry.Participants)
	if err != nil {
		return nil, fmt.Errorf("marshal participants: %w", err)
	}
	unread, err = json.Marshal(entry.Unread)
	if err != nil {
		return nil, fmt.Errorf("marshal unread: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO mailbox_entries (owner_id, room_id, participants, last_message_text, last_message_at, unread, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"ON CONFLICT (owner_id, room_id) DO UPDATE SET "+
			"participants = EXCLUDED.participants, "+
			"last_message_text = EXCLUDED.last_message_text, "+
			"last_message_at = EXCLUDED.last_message_at, "+
			"unread = EXCLUDED.unread, "+
			"updated_at = EXCLUDED.updated_at",
		entry.OwnerId,
		entry.RoomId,
		participants,
		entry.LastMessageText,
		entry.LastMessageAt,
		unread,
		entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return entry, nil
}

func getMailboxEntryTx(tx *sql.Tx, ownerId, roomId string) (*MailboxEntry, error) {
	row := tx.QueryRow(
		"SELECT owner_id, room_id, participants, last_message_text, last_message_at, unread, updated_at "+
			"FROM mailbox_entries WHERE owner_id = $1 AND room_id = $2",
		ownerId,
		roomId,
	)

	entry, err := scanMailboxEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMailboxEntry(row rowScanner) (MailboxEntry, error) {
	var entry MailboxEntry
	var participants, unread []byte

	err := row.Scan(
		&entry.OwnerId,
		&entry.RoomId,
		&participants,
		&entry.LastMessageText,
		&entry.LastMessageAt,
		&unread,
		&entry.UpdatedAt,
	)
	if err != nil {
		return MailboxEntry{}, err
	}

	if err := json.Unmarshal(participants, &entry.Participants); err != nil {
		return MailboxEntry{}, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := json.Unmarshal(unread, &entry.Unread); err != nil {
		return MailboxEntry{}, fmt.Errorf("unmarshal unread: %w", err)
	}

	return entry, nil
}

func (db *PgChatRepository) ListMailboxEntries(ownerId string) ([]MailboxEntry, error) {
	rows, err := db.conn.Query(
		"SELECT owner_id, room_id, participants, last_message_text, last_message_at, unread, updated_at "+
			"FROM mailbox_entries WHERE owner_id = $1 ORDER BY last_message_at DESC",
		ownerId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries = make([]MailboxEntry, 0)
	for rows.Next() {
		entry, err := scanMailboxEntry(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (db *PgChatRepository) GetProfile(userId string) (Profile, error) {
	row := db.conn.QueryRow(
		"SELECT user_id, nickname, photo_url, updated_at FROM profiles "+
			"WHERE user_id = $1 LIMIT 1",
		userId,
	)

	var p Profile
	err := row.Scan(
		&p.UserId,
		&p.Nickname,
		&p.PhotoURL,
		&p.UpdatedAt,
	)

	return p, err
}

func (db *PgChatRepository) UpsertProfile(p Profile) (Profile, error) {
	res := db.conn.QueryRow(
		"INSERT INTO profiles (user_id, nickname, photo_url, updated_at) "+
			"VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (user_id) DO UPDATE SET "+
			"nickname = EXCLUDED.nickname, photo_url = EXCLUDED.photo_url, updated_at = EXCLUDED.updated_at "+
			"RETURNING user_id, nickname, photo_url, updated_at",
		p.UserId,
		p.Nickname,
		p.PhotoURL,
		time.Now().UTC(),
	)

	var out Profile
	err := res.Scan(
		&out.UserId,
		&out.Nickname,
		&out.PhotoURL,
		&out.UpdatedAt,
	)

	return out, err
}
