package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/chat-service/internal/testutil"
	"github.com/careline/chat-service/internal/types"
)

func TestHTTPNotifier_MessageCreated(t *testing.T) {
	var got notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/notifications", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	n := NewHTTPNotifier(srv.URL, testutil.TestLogger(t))
	n.MessageCreated("doc-1", types.Message{
		Id:             42,
		ConversationId: "appt-1",
		SenderId:       "pat-1",
		SenderName:     "Pat",
		Body:           "hello",
	})

	assert.Equal(t, "doc-1", got.SubjectId)
	assert.Equal(t, "appt-1", got.ConversationId)
	assert.Equal(t, "Pat", got.SenderName)
	assert.Equal(t, int64(42), got.MessageId)
	assert.NotEmpty(t, got.EventId)
}

func TestHTTPNotifier_failuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	n := NewHTTPNotifier(srv.URL, testutil.TestLogger(t))

	assert.NotPanics(t, func() {
		n.MessageCreated("doc-1", types.Message{Id: 1, ConversationId: "appt-1"})
	})
}
