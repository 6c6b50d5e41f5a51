package store

import "time"

type Message struct {
	Id             int64
	ConversationId string
	SenderId       string
	SenderName     string
	Kind           string
	Body           string
	PayloadRef     string
	CreatedAt      time.Time
	ReadBy         []string
}

type AppendMessageParams struct {
	ConversationId string
	SenderId       string
	SenderName     string
	Kind           string
	Body           string
	PayloadRef     string
}
