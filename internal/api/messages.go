package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/moimhealth/moim-chat/internal/chat"
	"github.com/moimhealth/moim-chat/internal/types"
)

func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Open  *Open  `json:"open,omitempty"`
	Close *Close `json:"close,omitempty"`
	Send  *Send  `json:"send,omitempty"`
}

type Open struct {
	TargetId string `json:"target_id"`
}

type Close struct {
	TargetId string `json:"target_id"`
}

type Send struct {
	TargetId string `json:"target_id"`
	Content  string `json:"content"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response      `json:"response,omitempty"`
	Message  *types.Message `json:"message,omitempty"`
	Mailbox  *MailboxUpdate `json:"mailbox,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// MailboxUpdate carries the full mailbox snapshot, most recently
// active room first, plus the unread total across all rooms.
type MailboxUpdate struct {
	Rooms       []types.MailboxEntry `json:"rooms"`
	TotalUnread int                  `json:"total_unread"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message",
		},
	}
}

// responseFor maps a chat-layer error onto the wire response. Partial
// writes report 202: the message is durable, but one mailbox summary
// may lag until the next successful send.
func responseFor(id int, err error) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
	}

	var partial *chat.PartialWriteError
	switch {
	case errors.As(err, &partial):
		msg.Response = &Response{
			ResponseCode: http.StatusAccepted,
			Error:        partial.Error(),
		}
	case errors.Is(err, chat.ErrInvalidIdentifier), errors.Is(err, chat.ErrEmptyMessage):
		msg.Response = &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        err.Error(),
		}
	case errors.Is(err, chat.ErrUnauthenticated):
		msg.Response = &Response{
			ResponseCode: http.StatusUnauthorized,
			Error:        "unauthenticated",
		}
	default:
		msg.Response = &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		}
	}

	return msg
}
