package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/moimhealth/moim-chat/internal/chat"
	"github.com/moimhealth/moim-chat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client pairs one websocket connection with its own chat session.
// All chat state for the connection (open windows, live streams, the
// unread total) lives in the session and dies with the connection.
type Client struct {
	id      string
	conn    *websocket.Conn
	gateway *ChatGateway
	log     *log.Logger
	self    types.UserProfile
	session *chat.SessionManager
	send    chan *ServerMessage
	stop    chan struct{}

	// streaming tracks which targets already have a forwarding
	// goroutine attached. Touched only from the read loop.
	streaming map[string]bool
}

func newClient(g *ChatGateway, self types.UserProfile, conn *websocket.Conn, session *chat.SessionManager) (*Client, error) {
	c := &Client{
		id:        uuid.NewString(),
		conn:      conn,
		gateway:   g,
		log:       g.log,
		self:      self,
		session:   session,
		send:      make(chan *ServerMessage, 256),
		stop:      make(chan struct{}),
		streaming: make(map[string]bool),
	}

	if err := session.Start(context.Background(), self); err != nil {
		return nil, err
	}

	go c.forwardMailbox()
	return c, nil
}

func (c *Client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("client %s: write exiting", c.id)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("client %s: read exiting", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		switch {
		case msg.Open != nil:
			c.openChat(&msg)
		case msg.Close != nil:
			c.session.CloseChat(msg.Close.TargetId)
			delete(c.streaming, msg.Close.TargetId)
			c.queueMessage(NoErrOK(msg.Id, nil))
		case msg.Send != nil:
			c.sendChat(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

// openChat opens (or refocuses) the window with the target and starts
// streaming the room's messages down the connection. The window opens
// even when the read acknowledgement fails; the client only learns the
// unread counter may be stale.
func (c *Client) openChat(msg *ClientMessage) {
	target, err := c.lookupProfile(msg.Open.TargetId)
	if err != nil {
		c.queueMessage(responseFor(msg.Id, err))
		return
	}

	sub, err := c.session.OpenChat(target)
	if sub == nil {
		c.queueMessage(responseFor(msg.Id, err))
		return
	}
	if err != nil {
		c.log.Printf("open chat with %q: %v", target.Id, err)
	}

	if !c.streaming[target.Id] {
		c.streaming[target.Id] = true
		go c.forwardMessages(sub)
	}
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"target_id": target.Id}))
}

func (c *Client) sendChat(msg *ClientMessage) {
	target, err := c.lookupProfile(msg.Send.TargetId)
	if err != nil {
		c.queueMessage(responseFor(msg.Id, err))
		return
	}

	sent, err := c.session.Send(context.Background(), target, msg.Send.Content)
	if err != nil {
		c.queueMessage(responseFor(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"message_id": sent.Id, "room_id": sent.RoomId}))
}

func (c *Client) lookupProfile(userId string) (types.UserProfile, error) {
	record, err := c.gateway.db.GetProfile(userId)
	if err != nil {
		return types.UserProfile{}, err
	}

	return types.UserProfile{
		Id:       record.UserId,
		Nickname: record.Nickname,
		PhotoURL: record.PhotoURL,
	}, nil
}

// forwardMessages drains one open window's live stream into the send
// queue. Exits when the window closes or the session stops.
func (c *Client) forwardMessages(sub *chat.MessageSubscription) {
	for msg := range sub.C {
		m := msg
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Message:     &m,
		})
	}
}

// forwardMailbox pushes a fresh mailbox snapshot whenever the session
// applies one. Idempotent on the client side: every update carries the
// full room list, not a delta.
func (c *Client) forwardMailbox() {
	for {
		select {
		case <-c.session.Updates():
			c.queueMessage(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				Mailbox: &MailboxUpdate{
					Rooms:       c.session.Rooms(),
					TotalUnread: c.session.TotalUnread(),
				},
			})
		case <-c.stop:
			return
		}
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) cleanup() {
	c.session.Stop()
	close(c.stop)
}
