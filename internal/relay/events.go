package relay

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/careline/chat-service/internal/types"
)

// Inbound event types. Leave has no wire form; rooms are left implicitly
// on disconnect.
const (
	EventJoin     = "join"
	EventMessage  = "message"
	EventTyping   = "typing"
	EventMarkRead = "mark_read"
)

// Outbound event types.
const (
	EventAck   = "ack"
	EventError = "error"
)

// Error codes carried in outbound error events.
const (
	CodeUnauthenticated  = "unauthenticated"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeValidation       = "validation_error"
	CodeNotJoined        = "not_joined"
	CodeStoreUnavailable = "store_unavailable"
	CodeUnavailable      = "unavailable"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ClientEvent is the inbound envelope. Any client-supplied timestamp is
// ignored; message timestamps are assigned at persistence time.
type ClientEvent struct {
	Type           string `json:"type" validate:"required,oneof=join message typing mark_read"`
	Id             int    `json:"id,omitempty"`
	ConversationId string `json:"conversation_id" validate:"required,max=128"`
	Kind           string `json:"kind,omitempty" validate:"omitempty,oneof=text audio file"`
	Body           string `json:"body,omitempty" validate:"max=4096"`
	PayloadRef     string `json:"payload_ref,omitempty" validate:"omitempty,url"`
	MessageId      int64  `json:"message_id,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`

	principal types.Principal
	client    *Client
	reply     chan postResult
}

type postResult struct {
	msg types.Message
	err error
}

// validateEvent checks an inbound event at the boundary, before it
// reaches any room.
func validateEvent(ev *ClientEvent) error {
	if err := validate.Struct(ev); err != nil {
		return err
	}

	switch ev.Type {
	case EventMessage:
		return validateSendFields(ev.Kind, ev.Body, ev.PayloadRef)
	case EventMarkRead:
		if ev.MessageId <= 0 {
			return fmt.Errorf("mark_read requires a message_id")
		}
	}

	return nil
}

// validateSendFields holds every rule for a message payload, so the REST
// send path and the socket path accept and reject identically.
func validateSendFields(kind, body, payloadRef string) error {
	if err := validate.Var(body, "max=4096"); err != nil {
		return fmt.Errorf("message body exceeds 4096 characters")
	}

	if err := validate.Var(payloadRef, "omitempty,url"); err != nil {
		return fmt.Errorf("payload_ref must be a valid URL")
	}

	if kind == "" {
		kind = types.KindText
	}

	switch kind {
	case types.KindText:
		if body == "" {
			return fmt.Errorf("message body cannot be empty")
		}
	case types.KindAudio, types.KindFile:
		if payloadRef == "" {
			return fmt.Errorf("%s message requires a payload_ref", kind)
		}
	default:
		return fmt.Errorf("unknown message kind %q", kind)
	}

	return nil
}

// ServerEvent is the outbound envelope.
type ServerEvent struct {
	Type           string              `json:"type"`
	Id             int                 `json:"id,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
	ConversationId string              `json:"conversation_id,omitempty"`
	Conversation   *types.Conversation `json:"conversation,omitempty"`
	Message        *types.Message      `json:"message,omitempty"`
	Typing         *TypingState        `json:"typing,omitempty"`
	ReadReceipt    *ReadReceipt        `json:"read_receipt,omitempty"`
	Error          *ErrorBody          `json:"error,omitempty"`

	// SkipSubject excludes every connection belonging to a subject from a
	// broadcast. Used for typing events, which are never echoed back.
	SkipSubject string `json:"-"`
}

type TypingState struct {
	SubjectId   string `json:"subject_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"is_typing"`
}

type ReadReceipt struct {
	MessageId int64     `json:"message_id"`
	ReaderId  string    `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type ErrorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func ackEvent(id int, conversationId string, conversation *types.Conversation) *ServerEvent {
	return &ServerEvent{
		Type:           EventAck,
		Id:             id,
		Timestamp:      Now(),
		ConversationId: conversationId,
		Conversation:   conversation,
	}
}

func messageEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{
		Type:           EventMessage,
		Timestamp:      Now(),
		ConversationId: msg.ConversationId,
		Message:        &msg,
	}
}

func typingEvent(conversationId string, principal types.Principal, isTyping bool) *ServerEvent {
	return &ServerEvent{
		Type:           EventTyping,
		Timestamp:      Now(),
		ConversationId: conversationId,
		Typing: &TypingState{
			SubjectId:   principal.SubjectId,
			DisplayName: principal.DisplayName,
			IsTyping:    isTyping,
		},
		SkipSubject: principal.SubjectId,
	}
}

func receiptEvent(conversationId string, messageId int64, readerId string) *ServerEvent {
	return &ServerEvent{
		Type:           EventMarkRead,
		Timestamp:      Now(),
		ConversationId: conversationId,
		ReadReceipt: &ReadReceipt{
			MessageId: messageId,
			ReaderId:  readerId,
			ReadAt:    Now(),
		},
	}
}

func errorEvent(id int, conversationId, code, detail string) *ServerEvent {
	return &ServerEvent{
		Type:           EventError,
		Id:             id,
		Timestamp:      Now(),
		ConversationId: conversationId,
		Error: &ErrorBody{
			Code:   code,
			Detail: detail,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
