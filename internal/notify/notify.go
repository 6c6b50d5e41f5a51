package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/careline/chat-service/internal/types"
)

// Notifier delivers a best-effort "new message" hint for recipients with
// no live connection. Delivery is fire-and-forget; failures are logged and
// never surfaced to the sender.
type Notifier interface {
	MessageCreated(subjectId string, msg types.Message)
}

type notification struct {
	EventId        string `json:"event_id"`
	SubjectId      string `json:"subject_id"`
	ConversationId string `json:"conversation_id"`
	SenderName     string `json:"sender_name"`
	MessageId      int64  `json:"message_id"`
}

type HTTPNotifier struct {
	baseURL string
	client  *http.Client
	log     *log.Logger
}

func NewHTTPNotifier(baseURL string, logger *log.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
		log:     logger,
	}
}

func (n *HTTPNotifier) MessageCreated(subjectId string, msg types.Message) {
	payload, err := json.Marshal(notification{
		EventId:        uuid.NewString(),
		SubjectId:      subjectId,
		ConversationId: msg.ConversationId,
		SenderName:     msg.SenderName,
		MessageId:      msg.Id,
	})
	if err != nil {
		n.log.Println("notify: marshal:", err)
		return
	}

	resp, err := n.client.Post(n.baseURL+"/api/notifications", "application/json", bytes.NewReader(payload))
	if err != nil {
		n.log.Println("notify:", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		n.log.Printf("notify: unexpected status %d", resp.StatusCode)
	}
}

// NoopNotifier is used when no notification endpoint is configured.
type NoopNotifier struct{}

func (NoopNotifier) MessageCreated(string, types.Message) {}
