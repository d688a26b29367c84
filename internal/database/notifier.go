package database

import (
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	roomMessagesChannel   = "room_messages"
	mailboxUpdatesChannel = "mailbox_updates"

	minReconnectInterval = 5 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// ChangeSubscription is a kick channel for one stored key. A tick
// means "something changed, re-read"; it carries no payload, so a
// consumer that re-fetches on every tick is safe against coalesced or
// redelivered notifications.
type ChangeSubscription struct {
	C      <-chan struct{}
	cancel func()
}

func NewChangeSubscription(c <-chan struct{}, cancel func()) *ChangeSubscription {
	return &ChangeSubscription{C: c, cancel: cancel}
}

func (s *ChangeSubscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

type ChangeNotifier interface {
	SubscribeRoom(roomId string) *ChangeSubscription
	SubscribeMailbox(ownerId string) *ChangeSubscription
}

// PgNotifier fans postgres NOTIFY events out to subscriptions. The
// underlying pq.Listener reconnects on its own after connectivity
// loss; when it does, every subscription gets kicked so consumers
// resynchronize instead of assuming gap-free delivery.
type PgNotifier struct {
	log       *log.Logger
	listener  *pq.Listener
	pingEvery time.Duration

	mu     sync.Mutex
	nextId int
	subs   map[string]map[string]map[int]chan struct{}

	stop chan struct{}
	done chan struct{}
}

func NewPgNotifier(dsn string, logger *log.Logger) (*PgNotifier, error) {
	n := &PgNotifier{
		log:       logger,
		pingEvery: pingInterval,
		subs:      make(map[string]map[string]map[int]chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	n.listener = pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Println("pq listener:", err)
		}
	})

	for _, channel := range []string{roomMessagesChannel, mailboxUpdatesChannel} {
		if err := n.listener.Listen(channel); err != nil {
			n.listener.Close()
			return nil, err
		}
	}

	return n, nil
}

func (n *PgNotifier) Run() {
	go n.listen()
}

func (n *PgNotifier) listen() {
	defer close(n.done)

	// a ticker, not time.After: the keepalive must fire even when
	// notifications arrive continuously
	ticker := time.NewTicker(n.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case notification := <-n.listener.Notify:
			if notification == nil {
				// nil is delivered after a reconnect; anything may
				// have been missed in between
				n.log.Println("listener reconnected, resyncing subscriptions")
				n.kickAll()
				continue
			}

			n.dispatch(notification.Channel, notification.Extra)
		case <-ticker.C:
			go func() {
				if err := n.listener.Ping(); err != nil {
					n.log.Println("listener ping:", err)
				}
			}()
		case <-n.stop:
			return
		}
	}
}

func (n *PgNotifier) Close() error {
	close(n.stop)
	<-n.done
	return n.listener.Close()
}

func (n *PgNotifier) SubscribeRoom(roomId string) *ChangeSubscription {
	return n.subscribe(roomMessagesChannel, roomId)
}

func (n *PgNotifier) SubscribeMailbox(ownerId string) *ChangeSubscription {
	return n.subscribe(mailboxUpdatesChannel, ownerId)
}

func (n *PgNotifier) subscribe(channel, key string) *ChangeSubscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs[channel] == nil {
		n.subs[channel] = make(map[string]map[int]chan struct{})
	}
	if n.subs[channel][key] == nil {
		n.subs[channel][key] = make(map[int]chan struct{})
	}

	id := n.nextId
	n.nextId++

	kick := make(chan struct{}, 1)
	n.subs[channel][key][id] = kick

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if keySubs, ok := n.subs[channel][key]; ok {
			delete(keySubs, id)
			if len(keySubs) == 0 {
				delete(n.subs[channel], key)
			}
		}
	}

	return NewChangeSubscription(kick, cancel)
}

func (n *PgNotifier) dispatch(channel, key string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, kick := range n.subs[channel][key] {
		select {
		case kick <- struct{}{}:
		default:
			// a kick is already pending, re-reads coalesce
		}
	}
}

func (n *PgNotifier) kickAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, keySubs := range n.subs {
		for _, idSubs := range keySubs {
			for _, kick := range idSubs {
				select {
				case kick <- struct{}{}:
				default:
				}
			}
		}
	}
}
