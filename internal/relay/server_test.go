package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/careline/chat-service/internal/directory"
	"github.com/careline/chat-service/internal/notify"
	"github.com/careline/chat-service/internal/stats"
	"github.com/careline/chat-service/internal/store"
	"github.com/careline/chat-service/internal/testutil"
	"github.com/careline/chat-service/internal/types"
)

func newTestStats(t *testing.T) *stats.MockStatsUpdater {
	t.Helper()
	ms := &stats.MockStatsUpdater{}
	ms.On("RegisterMetric", mock.Anything).Maybe()
	ms.On("Incr", mock.Anything).Maybe()
	ms.On("Decr", mock.Anything).Maybe()
	return ms
}

func newTestRelayServer(t *testing.T, msgStore store.MessageStore, dir directory.Directory) *RelayServer {
	t.Helper()

	rs, err := NewRelayServer(testutil.TestLogger(t), msgStore, dir, notify.NoopNotifier{}, newTestStats(t))
	if err != nil {
		t.Fatalf("NewRelayServer: %v", err)
	}
	return rs
}

func newTestClient(t *testing.T, rs *RelayServer, principal types.Principal) *Client {
	t.Helper()

	return &Client{
		id:        "conn-" + principal.SubjectId,
		relay:     rs,
		log:       testutil.TestLogger(t),
		principal: principal,
		send:      make(chan *ServerEvent, sendBufferSize),
		rooms:     make(map[string]*Room),
		stop:      make(chan struct{}),
	}
}

func TestRun_routesJoinToNewRoom(t *testing.T) {
	dir := &directory.MockDirectory{}
	dir.On("Invalidate", "appt-1").Once()
	dir.On("Participants", mock.Anything, "appt-1").Return([]types.Participant{
		{SubjectId: "u1", DisplayName: "User One", Role: types.RolePatient},
	}, nil).Once()

	rs := newTestRelayServer(t, &store.MockMessageStore{}, dir)
	go rs.Run()
	defer rs.Shutdown(context.Background())

	c := newTestClient(t, rs, types.Principal{SubjectId: "u1", DisplayName: "User One", Role: types.RolePatient})
	rs.RegisterClient(c)

	rs.routeEvent(&ClientEvent{
		Type:           EventJoin,
		Id:             1,
		ConversationId: "appt-1",
		principal:      c.principal,
		client:         c,
	})

	select {
	case ev := <-c.send:
		assert.Equal(t, EventAck, ev.Type, "expected join ack")
		assert.Equal(t, 1, ev.Id, "expected ack to carry the request id")
		assert.NotNil(t, ev.Conversation, "expected ack to carry conversation info")
		assert.Equal(t, "appt-1", ev.Conversation.Id)
	case <-time.After(time.Second):
		t.Fatal("timeout: no join ack received")
	}

	assert.Equal(t, 1, rs.registry.RoomSize("appt-1"), "expected connection in room after join")
	dir.AssertExpectations(t)
}

func TestRun_registerAndDeregister(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockMessageStore{}, &directory.MockDirectory{})
	go rs.Run()
	defer rs.Shutdown(context.Background())

	c := newTestClient(t, rs, types.Principal{SubjectId: "u1"})
	rs.RegisterClient(c)

	assert.Eventually(t, func() bool {
		return rs.registry.NumClients() == 1
	}, time.Second, 10*time.Millisecond, "expected client to be registered")

	rs.DeregisterClient(c)

	assert.Eventually(t, func() bool {
		return rs.registry.NumClients() == 0
	}, time.Second, 10*time.Millisecond, "expected client to be deregistered")
}

func TestPostMessage_sharesRoomOrdering(t *testing.T) {
	participants := []types.Participant{
		{SubjectId: "doc-1", DisplayName: "Dr. Grey", Role: types.RoleDoctor},
		{SubjectId: "pat-1", DisplayName: "Pat", Role: types.RolePatient},
	}

	dir := &directory.MockDirectory{}
	dir.On("Participants", mock.Anything, "appt-7").Return(participants, nil)
	dir.On("Invalidate", mock.Anything).Maybe()

	ms := &store.MockMessageStore{}
	ms.On("Append", mock.Anything, mock.MatchedBy(func(p store.AppendMessageParams) bool {
		return p.ConversationId == "appt-7" && p.SenderId == "doc-1" && p.Body == "hello"
	})).Return(store.Message{
		Id:             42,
		ConversationId: "appt-7",
		SenderId:       "doc-1",
		SenderName:     "Dr. Grey",
		Kind:           types.KindText,
		Body:           "hello",
		CreatedAt:      Now(),
	}, nil).Once()

	rs := newTestRelayServer(t, ms, dir)
	go rs.Run()
	defer rs.Shutdown(context.Background())

	msg, err := rs.PostMessage(context.Background(), types.Principal{SubjectId: "doc-1", DisplayName: "Dr. Grey", Role: types.RoleDoctor},
		"appt-7", Payload{Body: "hello"})
	assert.NoError(t, err, "expected post to succeed")
	assert.Equal(t, int64(42), msg.Id, "expected persisted message id")
	assert.Equal(t, "appt-7", msg.ConversationId)
	assert.NotNil(t, msg.ReadBy, "expected empty read_by, not nil")

	ms.AssertExpectations(t)
}

func TestPostMessage_validation(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockMessageStore{}, &directory.MockDirectory{})
	go rs.Run()
	defer rs.Shutdown(context.Background())

	tcases := []struct {
		name    string
		payload Payload
	}{
		{name: "empty text body", payload: Payload{Kind: types.KindText}},
		{name: "oversized body", payload: Payload{Kind: types.KindText, Body: strings.Repeat("a", 4097)}},
		{name: "file without payload ref", payload: Payload{Kind: types.KindFile}},
		{name: "payload ref is not a url", payload: Payload{Kind: types.KindAudio, PayloadRef: "not-a-url"}},
		{name: "unknown kind", payload: Payload{Kind: "video", Body: "x"}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rs.PostMessage(context.Background(), types.Principal{SubjectId: "u1"}, "appt-1", tc.payload)
			assert.ErrorIs(t, err, ErrValidation, "expected validation error")
		})
	}
}

func TestPostMessage_forbiddenForNonParticipant(t *testing.T) {
	dir := &directory.MockDirectory{}
	dir.On("Participants", mock.Anything, "appt-9").Return([]types.Participant{
		{SubjectId: "someone-else", Role: types.RolePatient},
	}, nil)

	rs := newTestRelayServer(t, &store.MockMessageStore{}, dir)
	go rs.Run()
	defer rs.Shutdown(context.Background())

	_, err := rs.PostMessage(context.Background(), types.Principal{SubjectId: "intruder"}, "appt-9", Payload{Body: "hi"})
	assert.ErrorIs(t, err, ErrForbidden, "expected forbidden for non-participant")
}

func TestShutdown_stopsRooms(t *testing.T) {
	dir := &directory.MockDirectory{}
	dir.On("Invalidate", mock.Anything).Maybe()
	dir.On("Participants", mock.Anything, mock.Anything).Return([]types.Participant{
		{SubjectId: "u1", Role: types.RolePatient},
	}, nil)

	rs := newTestRelayServer(t, &store.MockMessageStore{}, dir)
	go rs.Run()

	c := newTestClient(t, rs, types.Principal{SubjectId: "u1"})
	rs.RegisterClient(c)
	rs.routeEvent(&ClientEvent{Type: EventJoin, ConversationId: "appt-1", principal: c.principal, client: c})

	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Fatal("timeout: no join ack received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, rs.Shutdown(ctx), "expected clean shutdown")

	assert.Equal(t, 0, rs.registry.RoomSize("appt-1"), "expected room emptied on shutdown")

	select {
	case <-c.stop:
	default:
		t.Error("expected client stop channel to be closed on shutdown")
	}
}
