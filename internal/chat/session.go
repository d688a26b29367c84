package chat

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/moimhealth/moim-chat/internal/stats"
	"github.com/moimhealth/moim-chat/internal/types"
)

type openWindow struct {
	target types.UserProfile
	roomId string
	sub    *MessageSubscription
}

// SessionManager orchestrates one authenticated user's chat state:
// the set of open conversation windows, their live message streams,
// read acknowledgements, sends, and the reactive unread total derived
// from the user's mailbox subscription. It is client-side state; a
// new session starts empty.
type SessionManager struct {
	log     *log.Logger
	msgs    *MessageLog
	mailbox *MailboxLedger
	stats   stats.StatsProvider

	mu          sync.RWMutex
	self        types.UserProfile
	authed      bool
	windows     map[string]*openWindow
	order       []string
	rooms       []types.MailboxEntry
	totalUnread int

	ctx     context.Context
	cancel  context.CancelFunc
	updates chan struct{}
	done    chan struct{}
}

func NewSessionManager(logger *log.Logger, msgs *MessageLog, mailbox *MailboxLedger, statsProvider stats.StatsProvider) *SessionManager {
	return &SessionManager{
		log:     logger,
		msgs:    msgs,
		mailbox: mailbox,
		stats:   statsProvider,
		windows: make(map[string]*openWindow),
		updates: make(chan struct{}, 1),
	}
}

// Start binds the session to the current user and establishes the
// live mailbox subscription. Cancelling ctx (logout, navigating away)
// tears down every subscription the session owns.
func (sm *SessionManager) Start(ctx context.Context, self types.UserProfile) error {
	if err := validateUserId(self.Id); err != nil {
		return err
	}

	sm.mu.Lock()
	if sm.authed {
		sm.mu.Unlock()
		return fmt.Errorf("session already started for user %q", sm.self.Id)
	}
	sm.self = self
	sm.authed = true
	sm.ctx, sm.cancel = context.WithCancel(ctx)
	sm.done = make(chan struct{})
	sm.mu.Unlock()

	mailboxSub, err := sm.mailbox.ListForUser(sm.ctx, self.Id)
	if err != nil {
		sm.teardown()
		// run never starts, so Stop must not wait on it
		close(sm.done)
		return err
	}

	go sm.run(mailboxSub)
	return nil
}

func (sm *SessionManager) run(mailboxSub *MailboxSubscription) {
	defer func() {
		sm.teardown()
		close(sm.done)
	}()

	for snapshot := range mailboxSub.C {
		total := 0
		for _, entry := range snapshot {
			total += entry.UnreadCount[sm.self.Id]
		}

		sm.mu.Lock()
		sm.rooms = snapshot
		sm.totalUnread = total
		sm.mu.Unlock()

		sm.stats.Set(stats.TotalUnread, total)

		select {
		case sm.updates <- struct{}{}:
		default:
		}
	}
}

func (sm *SessionManager) teardown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.cancel != nil {
		sm.cancel()
	}

	for _, w := range sm.windows {
		w.sub.Cancel()
		sm.stats.Decr(stats.OpenChatWindows)
	}

	sm.windows = make(map[string]*openWindow)
	sm.order = nil
	sm.rooms = nil
	sm.totalUnread = 0
	sm.authed = false
}

// Stop ends the session and cancels all live subscriptions. Safe to
// call on a session that never started.
func (sm *SessionManager) Stop() {
	sm.mu.Lock()
	cancel := sm.cancel
	done := sm.done
	sm.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	if done != nil {
		<-done
	}
}

// OpenChat opens a conversation window with the target user and marks
// the conversation read. Idempotent: a second call for the same
// target returns the already-open window's stream instead of
// duplicating it, but re-acknowledges the read either way, matching
// the behavior of focusing an already-open window. The window stays
// open even when the acknowledgement fails; the returned error only
// reports that the counter may still be stale.
func (sm *SessionManager) OpenChat(target types.UserProfile) (*MessageSubscription, error) {
	sm.mu.Lock()
	if !sm.authed {
		sm.mu.Unlock()
		return nil, ErrUnauthenticated
	}
	self := sm.self
	ctx := sm.ctx

	roomId, err := ComputeRoomID(self.Id, target.Id)
	if err != nil {
		sm.mu.Unlock()
		return nil, err
	}

	w, open := sm.windows[target.Id]
	sm.mu.Unlock()

	if !open {
		// subscribe without holding the lock so a slow backfill does
		// not stall CloseChat, Send or snapshot application
		sub, err := sm.msgs.SubscribeRecent(ctx, roomId, DefaultBackfillLimit)
		if err != nil {
			return nil, err
		}

		sm.mu.Lock()
		switch {
		case !sm.authed:
			sm.mu.Unlock()
			sub.Cancel()
			return nil, ErrUnauthenticated
		case sm.windows[target.Id] != nil:
			// a concurrent caller won the race for this window
			w = sm.windows[target.Id]
			sm.mu.Unlock()
			sub.Cancel()
		default:
			w = &openWindow{target: target, roomId: roomId, sub: sub}
			sm.windows[target.Id] = w
			sm.order = append(sm.order, target.Id)
			sm.stats.Incr(stats.OpenChatWindows)
			sm.mu.Unlock()
		}
	}

	if err := sm.mailbox.ResetUnread(ctx, self.Id, roomId); err != nil {
		sm.log.Printf("reset unread for %q in room %q: %v", self.Id, roomId, err)
		return w.sub, err
	}

	return w.sub, nil
}

// CloseChat removes the target's window and cancels its message
// subscription. No backend effect; unknown targets are a no-op.
func (sm *SessionManager) CloseChat(targetId string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	w, ok := sm.windows[targetId]
	if !ok {
		return
	}

	w.sub.Cancel()
	delete(sm.windows, targetId)
	for i, id := range sm.order {
		if id == targetId {
			sm.order = append(sm.order[:i], sm.order[i+1:]...)
			break
		}
	}
	sm.stats.Decr(stats.OpenChatWindows)
}

// OpenChats returns the open windows' target profiles in opening
// order.
func (sm *SessionManager) OpenChats() []types.UserProfile {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	targets := make([]types.UserProfile, 0, len(sm.order))
	for _, id := range sm.order {
		targets = append(targets, sm.windows[id].target)
	}
	return targets
}

// Send appends the message to the room's log, then records the send
// in both participants' mailboxes. The mailbox summary gets its own
// server timestamp, written after the message's; the two may differ
// by the latency between the writes. A PartialWriteError means the
// message is durable and one mailbox copy is stale until the next
// successful send.
func (sm *SessionManager) Send(ctx context.Context, target types.UserProfile, text string) (types.Message, error) {
	sm.mu.RLock()
	authed := sm.authed
	self := sm.self
	sm.mu.RUnlock()

	if !authed {
		return types.Message{}, ErrUnauthenticated
	}

	roomId, err := ComputeRoomID(self.Id, target.Id)
	if err != nil {
		return types.Message{}, err
	}

	msg, err := sm.msgs.Append(ctx, roomId, self.Id, text)
	if err != nil {
		return types.Message{}, err
	}

	if err := sm.mailbox.RecordSend(ctx, roomId, self, target, text); err != nil {
		return msg, err
	}

	return msg, nil
}

// Rooms returns the latest mailbox snapshot, most recently active
// conversation first.
func (sm *SessionManager) Rooms() []types.MailboxEntry {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	rooms := make([]types.MailboxEntry, len(sm.rooms))
	copy(rooms, sm.rooms)
	return rooms
}

// TotalUnread is the sum of the current user's unread counters across
// all rooms, recomputed on every mailbox snapshot.
func (sm *SessionManager) TotalUnread() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.totalUnread
}

// Updates ticks whenever a new mailbox snapshot has been applied.
func (sm *SessionManager) Updates() <-chan struct{} {
	return sm.updates
}
