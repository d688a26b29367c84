package chat

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/moimhealth/moim-chat/internal/database"
	"github.com/moimhealth/moim-chat/internal/stats"
	"github.com/moimhealth/moim-chat/internal/types"
)

// MailboxLedger maintains each user's per-room summary records: the
// denormalized participant snapshots, the last-message preview and
// the per-user unread counters. Every mutation goes through the
// store's record-scoped transaction so a concurrent reset and
// increment cannot lose each other.
type MailboxLedger struct {
	log      *log.Logger
	db       database.ChatRepository
	notifier database.ChangeNotifier
	stats    stats.StatsProvider
}

func NewMailboxLedger(logger *log.Logger, db database.ChatRepository, notifier database.ChangeNotifier, statsProvider stats.StatsProvider) *MailboxLedger {
	return &MailboxLedger{
		log:      logger,
		db:       db,
		notifier: notifier,
		stats:    statsProvider,
	}
}

// RecordSend upserts both participants' mailbox copies of a room
// after a message: fresh participant snapshots and last-message
// preview on both sides, plus an unread increment on the receiver's
// side only. The two transactions are independent; if exactly one
// fails the other is not rolled back and a PartialWriteError reports
// which mailbox is stale.
func (mb *MailboxLedger) RecordSend(ctx context.Context, roomId string, sender, receiver types.UserProfile, text string) error {
	if roomId == "" {
		return ErrInvalidIdentifier
	}
	if err := validateUserId(sender.Id); err != nil {
		return err
	}
	if err := validateUserId(receiver.Id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewBackendError("record send", err)
	}

	participants := map[string]database.Participant{
		sender.Id:   {Nickname: sender.Nickname, PhotoURL: sender.PhotoURL},
		receiver.Id: {Nickname: receiver.Nickname, PhotoURL: receiver.PhotoURL},
	}

	senderErr := mb.upsertSendSide(sender.Id, roomId, participants, text, "")
	receiverErr := mb.upsertSendSide(receiver.Id, roomId, participants, text, receiver.Id)

	switch {
	case senderErr != nil && receiverErr != nil:
		return NewBackendError("record send", errors.Join(senderErr, receiverErr))
	case senderErr != nil:
		return mb.partialWrite(roomId, sender.Id, senderErr)
	case receiverErr != nil:
		return mb.partialWrite(roomId, receiver.Id, receiverErr)
	}

	return nil
}

func (mb *MailboxLedger) partialWrite(roomId, failedOwner string, err error) error {
	mb.stats.Incr(stats.PartialWrites)
	mb.log.Printf("warning: mailbox for %q in room %q not updated: %v", failedOwner, roomId, err)
	return &PartialWriteError{RoomId: roomId, FailedOwner: failedOwner, Err: err}
}

// upsertSendSide runs one side's transaction. The store calls the
// function with the latest committed entry and the server time for
// this transaction, so the mailbox summary carries its own timestamp
// independent of the message's.
func (mb *MailboxLedger) upsertSendSide(ownerId, roomId string, participants map[string]database.Participant, text, incrementFor string) error {
	_, err := mb.db.UpdateMailboxEntry(ownerId, roomId, func(current *database.MailboxEntry, now time.Time) (*database.MailboxEntry, error) {
		entry := database.MailboxEntry{
			Participants:    participants,
			LastMessageText: text,
			LastMessageAt:   now,
			Unread:          map[string]int{},
		}

		if current != nil {
			for uid, count := range current.Unread {
				entry.Unread[uid] = count
			}
		}

		if incrementFor != "" {
			entry.Unread[incrementFor]++
		}

		return &entry, nil
	})
	if err != nil {
		return err
	}

	mb.stats.Incr(stats.MailboxTransactions)
	return nil
}

// ResetUnread atomically zeroes the owner's unread counter for one
// room. Idempotent; a no-op when the entry does not exist yet.
func (mb *MailboxLedger) ResetUnread(ctx context.Context, ownerId, roomId string) error {
	if err := validateUserId(ownerId); err != nil {
		return err
	}
	if roomId == "" {
		return ErrInvalidIdentifier
	}
	if err := ctx.Err(); err != nil {
		return NewBackendError("reset unread", err)
	}

	_, err := mb.db.UpdateMailboxEntry(ownerId, roomId, func(current *database.MailboxEntry, _ time.Time) (*database.MailboxEntry, error) {
		if current == nil {
			return nil, nil
		}

		entry := *current
		entry.Unread = map[string]int{}
		for uid, count := range current.Unread {
			entry.Unread[uid] = count
		}
		entry.Unread[ownerId] = 0

		return &entry, nil
	})
	if err != nil {
		return NewBackendError("reset unread", err)
	}

	mb.stats.Incr(stats.MailboxTransactions)
	return nil
}

// Snapshot returns the owner's mailbox entries, most recently active
// room first.
func (mb *MailboxLedger) Snapshot(ctx context.Context, ownerId string) ([]types.MailboxEntry, error) {
	if err := validateUserId(ownerId); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewBackendError("list mailbox", err)
	}

	records, err := mb.db.ListMailboxEntries(ownerId)
	if err != nil {
		return nil, NewBackendError("list mailbox", err)
	}

	entries := make([]types.MailboxEntry, len(records))
	for i, r := range records {
		entries[i] = entryFromRecord(r)
	}
	return entries, nil
}

// MailboxSubscription is a live, cancellable stream of full mailbox
// snapshots, each ordered by last-message timestamp descending. A new
// snapshot is delivered after every create or update of any entry.
type MailboxSubscription struct {
	C      <-chan []types.MailboxEntry
	cancel context.CancelFunc
}

func (s *MailboxSubscription) Cancel() {
	s.cancel()
}

// ListForUser opens a live subscription over the owner's mailbox.
// The initial snapshot is delivered immediately; cancellation closes
// the channel without side effects on stored data.
func (mb *MailboxLedger) ListForUser(ctx context.Context, ownerId string) (*MailboxSubscription, error) {
	if err := validateUserId(ownerId); err != nil {
		return nil, err
	}

	// register the change feed before the initial read so an update
	// committed during the query leaves a pending kick; the requery
	// delivers a full snapshot either way
	changes := mb.notifier.SubscribeMailbox(ownerId)

	initial, err := mb.Snapshot(ctx, ownerId)
	if err != nil {
		changes.Cancel()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan []types.MailboxEntry, 1)

	mb.stats.Incr(stats.ActiveSubscriptions)
	go mb.streamSnapshots(subCtx, ownerId, initial, changes, out)

	return &MailboxSubscription{C: out, cancel: cancel}, nil
}

func (mb *MailboxLedger) streamSnapshots(ctx context.Context, ownerId string, initial []types.MailboxEntry, changes *database.ChangeSubscription, out chan<- []types.MailboxEntry) {
	defer func() {
		changes.Cancel()
		close(out)
		mb.stats.Decr(stats.ActiveSubscriptions)
	}()

	select {
	case out <- initial:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes.C:
			if !ok {
				return
			}

			snapshot, err := mb.Snapshot(ctx, ownerId)
			if err != nil {
				mb.log.Printf("resync mailbox %q: %v", ownerId, err)
				continue
			}

			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}
}

func entryFromRecord(e database.MailboxEntry) types.MailboxEntry {
	participants := make(map[string]types.UserProfile, len(e.Participants))
	for uid, p := range e.Participants {
		participants[uid] = types.UserProfile{Id: uid, Nickname: p.Nickname, PhotoURL: p.PhotoURL}
	}

	return types.MailboxEntry{
		Id:           e.RoomId,
		Participants: participants,
		LastMessage: types.LastMessage{
			Text:      e.LastMessageText,
			Timestamp: e.LastMessageAt,
		},
		UnreadCount: e.Unread,
	}
}
