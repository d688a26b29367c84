package chat

import (
	"context"
	"log"
	"strings"

	"github.com/moimhealth/moim-chat/internal/database"
	"github.com/moimhealth/moim-chat/internal/stats"
	"github.com/moimhealth/moim-chat/internal/types"
)

// DefaultBackfillLimit is how many recent messages a live
// subscription replays before streaming new ones.
const DefaultBackfillLimit = 50

// MessageLog is the append-only, timestamp-ordered store of messages
// per room. The backing store assigns timestamps and acceptance
// order; the log never reorders after delivery.
type MessageLog struct {
	log      *log.Logger
	db       database.ChatRepository
	notifier database.ChangeNotifier
	stats    stats.StatsProvider
}

func NewMessageLog(logger *log.Logger, db database.ChatRepository, notifier database.ChangeNotifier, statsProvider stats.StatsProvider) *MessageLog {
	return &MessageLog{
		log:      logger,
		db:       db,
		notifier: notifier,
		stats:    statsProvider,
	}
}

// Append validates and durably persists a message. The server assigns
// the timestamp and the opaque message key; live subscribers of the
// room are notified by the store.
func (ml *MessageLog) Append(ctx context.Context, roomId, senderId, text string) (types.Message, error) {
	if roomId == "" {
		return types.Message{}, ErrInvalidIdentifier
	}
	if err := validateUserId(senderId); err != nil {
		return types.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		return types.Message{}, ErrEmptyMessage
	}
	if err := ctx.Err(); err != nil {
		return types.Message{}, NewBackendError("append message", err)
	}

	record, err := ml.db.AppendMessage(database.AppendMessageParams{
		RoomId:   roomId,
		SenderId: senderId,
		Content:  text,
	})
	if err != nil {
		return types.Message{}, NewBackendError("append message", err)
	}

	ml.stats.Incr(stats.MessagesAppended)
	return messageFromRecord(record), nil
}

// Recent returns up to limit most recent messages of a room in
// ascending order, without establishing a subscription.
func (ml *MessageLog) Recent(ctx context.Context, roomId string, limit int) ([]types.Message, error) {
	if roomId == "" {
		return nil, ErrInvalidIdentifier
	}
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, NewBackendError("list messages", err)
	}

	records, err := ml.db.ListRecentMessages(roomId, limit)
	if err != nil {
		return nil, NewBackendError("list messages", err)
	}

	messages := make([]types.Message, len(records))
	for i, r := range records {
		messages[i] = messageFromRecord(r)
	}
	return messages, nil
}

// MessageSubscription is a live, cancellable stream of one room's
// messages. C replays the backfill ascending, then yields each newly
// appended message exactly once in acceptance order, and is closed on
// cancellation.
type MessageSubscription struct {
	C      <-chan types.Message
	cancel context.CancelFunc
}

func (s *MessageSubscription) Cancel() {
	s.cancel()
}

// SubscribeRecent opens a live subscription over the last limit
// messages of a room. Cancelling the subscription (or the context)
// stops delivery with no effect on stored data. Delivery survives
// transient connectivity loss: the store's change feed reconnects
// silently and the stream resynchronizes from its sequence cursor.
func (ml *MessageLog) SubscribeRecent(ctx context.Context, roomId string, limit int) (*MessageSubscription, error) {
	if roomId == "" {
		return nil, ErrInvalidIdentifier
	}
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}

	// register the change feed before reading the backfill: a message
	// committed while the backfill query runs then lands as a pending
	// kick, and the sequence cursor collapses any overlap
	changes := ml.notifier.SubscribeRoom(roomId)

	backfill, err := ml.db.ListRecentMessages(roomId, limit)
	if err != nil {
		changes.Cancel()
		return nil, NewBackendError("subscribe messages", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan types.Message, limit)

	ml.stats.Incr(stats.ActiveSubscriptions)
	go ml.stream(subCtx, roomId, backfill, changes, out)

	return &MessageSubscription{C: out, cancel: cancel}, nil
}

func (ml *MessageLog) stream(ctx context.Context, roomId string, backfill []database.Message, changes *database.ChangeSubscription, out chan<- types.Message) {
	defer func() {
		changes.Cancel()
		close(out)
		ml.stats.Decr(stats.ActiveSubscriptions)
	}()

	var lastSeq int64
	for _, record := range backfill {
		select {
		case out <- messageFromRecord(record):
			lastSeq = record.Seq
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes.C:
			if !ok {
				return
			}

			// the change feed is at-least-once and carries no
			// payload; the cursor keeps redelivery exactly-once
			records, err := ml.db.ListMessagesAfter(roomId, lastSeq)
			if err != nil {
				ml.log.Printf("resync room %q: %v", roomId, err)
				continue
			}

			for _, record := range records {
				select {
				case out <- messageFromRecord(record):
					lastSeq = record.Seq
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func messageFromRecord(m database.Message) types.Message {
	return types.Message{
		Id:        m.ExternalId,
		RoomId:    m.RoomId,
		SenderId:  m.SenderId,
		Text:      m.Content,
		Timestamp: m.CreatedAt,
		Seq:       m.Seq,
	}
}
