package types

import (
	"time"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Principal is the authenticated identity attached to a connection or
// REST call. It is derived once from the credential and never persisted.
type Principal struct {
	SubjectId   string `json:"subject_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Participant is an identity authorized for a conversation, as reported
// by the conversation directory.
type Participant struct {
	SubjectId   string `json:"subject_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Conversation identifies a chat thread. The id is owned externally
// (it is the appointment id in this domain).
type Conversation struct {
	Id           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

const (
	KindText  = "text"
	KindAudio = "audio"
	KindFile  = "file"
)

// Message is the durable chat entity. All fields except ReadBy are
// immutable once the message is persisted; ReadBy only grows.
type Message struct {
	Id             int64     `json:"id"`
	ConversationId string    `json:"conversation_id"`
	SenderId       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Kind           string    `json:"kind"`
	Body           string    `json:"body,omitempty"`
	PayloadRef     string    `json:"payload_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ReadBy         []string  `json:"read_by"`
}
