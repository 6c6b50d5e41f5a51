package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/samber/lo"

	"github.com/careline/chat-service/internal/directory"
	"github.com/careline/chat-service/internal/stats"
	"github.com/careline/chat-service/internal/store"
	"github.com/careline/chat-service/internal/types"
)

const (
	idleRoomTimeout  = 30 * time.Second
	upstreamTimeout  = 5 * time.Second
	appendAttempts   = 3
	appendRetryDelay = 100 * time.Millisecond
	eventBufferSize  = 256
)

// Room serializes all durable-effect events for one conversation: a single
// goroutine runs persist+broadcast sequences back to back, which is what
// guarantees delivery ordering within the conversation.
type Room struct {
	conversationId string
	relay          *RelayServer
	log            *log.Logger
	eventChan      chan *ClientEvent
	leaveChan      chan *Client
	killTimer      *time.Timer
	exit           chan struct{}
	done           chan struct{}
}

func newRoom(conversationId string, rs *RelayServer) *Room {
	return &Room{
		conversationId: conversationId,
		relay:          rs,
		log:            rs.log,
		eventChan:      make(chan *ClientEvent, eventBufferSize),
		leaveChan:      make(chan *Client, eventBufferSize),
		exit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (r *Room) start() {
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case ev := <-r.eventChan:
			switch ev.Type {
			case EventJoin:
				r.handleJoin(ev)
			case EventMessage:
				r.handleSend(ev)
			case EventTyping:
				r.handleTyping(ev)
			case EventMarkRead:
				r.handleMarkRead(ev)
			}
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case <-r.killTimer.C:
			r.handleIdleTimeout()
		case <-r.exit:
			r.handleExit()
			return
		}
	}
}

func (r *Room) enqueue(ev *ClientEvent) bool {
	select {
	case r.eventChan <- ev:
		return true
	default:
		return false
	}
}

// leave removes a connection from the room. If the room's goroutine can't
// take the request the registry is updated directly so no stale membership
// survives a disconnect; a room emptied this way is handed to the relay
// for unload, since its own kill timer may be stopped.
func (r *Room) leave(c *Client) {
	select {
	case r.leaveChan <- c:
	default:
		r.relay.registry.RemoveFromRoom(r.conversationId, c)
		c.delRoom(r.conversationId)

		if r.relay.registry.RoomSize(r.conversationId) == 0 {
			select {
			case r.relay.unloadChan <- r.conversationId:
			default:
			}
		}
	}
}

// participants resolves the conversation's authorized set. Joins force a
// directory round trip; sends and reads may be served from the directory's
// short-lived cache. Any directory failure denies access.
func (r *Room) participants(refresh bool) ([]types.Participant, error) {
	if refresh {
		r.relay.directory.Invalidate(r.conversationId)
	}

	ctx, cancel := context.WithTimeout(context.Background(), upstreamTimeout)
	defer cancel()

	return r.relay.directory.Participants(ctx, r.conversationId)
}

func authorized(participants []types.Participant, subjectId string) bool {
	return lo.ContainsBy(participants, func(p types.Participant) bool {
		return p.SubjectId == subjectId
	})
}

func (r *Room) handleJoin(ev *ClientEvent) {
	participants, err := r.participants(true)
	if err != nil {
		r.deny(ev, err)
		r.maybeStartKillTimer()
		return
	}

	if !authorized(participants, ev.principal.SubjectId) {
		r.respondError(ev, CodeForbidden, "not a conversation participant", ErrForbidden)
		r.maybeStartKillTimer()
		return
	}

	r.killTimer.Stop()
	r.relay.registry.AddToRoom(r.conversationId, ev.client)
	ev.client.addRoom(r)

	ev.client.queueEvent(ackEvent(ev.Id, r.conversationId, &types.Conversation{
		Id:           r.conversationId,
		Participants: participants,
	}))
}

func (r *Room) handleSend(ev *ClientEvent) {
	participants, err := r.participants(false)
	if err != nil {
		r.deny(ev, err)
		return
	}

	// re-checked on every send so revoked participants stop immediately
	if !authorized(participants, ev.principal.SubjectId) {
		r.respondError(ev, CodeForbidden, "not a conversation participant", ErrForbidden)
		return
	}

	kind := ev.Kind
	if kind == "" {
		kind = types.KindText
	}

	stored, err := r.appendWithRetry(store.AppendMessageParams{
		ConversationId: r.conversationId,
		SenderId:       ev.principal.SubjectId,
		SenderName:     ev.principal.DisplayName,
		Kind:           kind,
		Body:           ev.Body,
		PayloadRef:     ev.PayloadRef,
	})
	if err != nil {
		r.log.Printf("append message in %q: %v", r.conversationId, err)
		r.respondError(ev, CodeStoreUnavailable, "message could not be persisted", ErrStoreUnavailable)
		return
	}

	msg := toWireMessage(stored)
	r.relay.stats.Incr(stats.MessagesSent)

	// the sender's authoritative copy arrives via the broadcast below
	if ev.reply != nil {
		ev.reply <- postResult{msg: msg}
	} else {
		ev.client.queueEvent(ackEvent(ev.Id, r.conversationId, nil))
	}

	r.broadcast(messageEvent(msg))
	r.notifyOffline(participants, msg)
}

// appendWithRetry persists a message, retrying a bounded number of times.
// Broadcast happens strictly after a successful append, so a message seen
// by any peer is always recoverable from history.
func (r *Room) appendWithRetry(params store.AppendMessageParams) (store.Message, error) {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(appendRetryDelay * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), upstreamTimeout)
		stored, err := r.relay.store.Append(ctx, params)
		cancel()
		if err == nil {
			return stored, nil
		}
		lastErr = err
	}

	return store.Message{}, lastErr
}

func (r *Room) handleTyping(ev *ClientEvent) {
	// ephemeral, best-effort: not persisted, no ack, not echoed to sender
	r.broadcast(typingEvent(r.conversationId, ev.principal, ev.IsTyping))
}

func (r *Room) handleMarkRead(ev *ClientEvent) {
	participants, err := r.participants(false)
	if err != nil {
		r.deny(ev, err)
		return
	}

	if !authorized(participants, ev.principal.SubjectId) {
		r.respondError(ev, CodeForbidden, "not a conversation participant", ErrForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), upstreamTimeout)
	msg, err := r.relay.store.AddReader(ctx, r.conversationId, ev.MessageId, ev.principal.SubjectId)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.respondError(ev, CodeNotFound, "unknown message id", ErrMessageNotFound)
			return
		}
		r.log.Printf("add reader in %q: %v", r.conversationId, err)
		r.respondError(ev, CodeStoreUnavailable, "read state could not be persisted", ErrStoreUnavailable)
		return
	}

	ev.client.queueEvent(ackEvent(ev.Id, r.conversationId, nil))

	if msg.SenderId == ev.principal.SubjectId {
		// a sender never generates a receipt for its own message
		return
	}

	r.relay.stats.Incr(stats.ReadReceipts)

	// receipts target only the original sender's live connections; an
	// offline sender gets nothing (no queued receipt)
	receipt := receiptEvent(r.conversationId, msg.Id, ev.principal.SubjectId)
	for _, c := range r.relay.registry.MembersBySubject(r.conversationId, msg.SenderId) {
		c.queueEvent(receipt)
	}
}

func (r *Room) handleLeave(c *Client) {
	r.relay.registry.RemoveFromRoom(r.conversationId, c)
	c.delRoom(r.conversationId)
	r.maybeStartKillTimer()
}

func (r *Room) handleIdleTimeout() {
	if r.relay.registry.RoomSize(r.conversationId) > 0 {
		return
	}

	select {
	case r.relay.unloadChan <- r.conversationId:
	default:
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleExit() {
	for _, c := range r.relay.registry.RoomMembers(r.conversationId) {
		r.relay.registry.RemoveFromRoom(r.conversationId, c)
		c.delRoom(r.conversationId)
	}

	// events that raced the unload get a retryable failure, not silence
	for {
		select {
		case ev := <-r.eventChan:
			r.respondError(ev, CodeUnavailable, "conversation unloading", ErrUnavailable)
		default:
			close(r.done)
			return
		}
	}
}

func (r *Room) maybeStartKillTimer() {
	if r.relay.registry.RoomSize(r.conversationId) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// deny maps a directory failure to the event's outcome. Unknown
// conversations are NotFound; anything else fails closed as Forbidden.
func (r *Room) deny(ev *ClientEvent, err error) {
	if errors.Is(err, directory.ErrNotFound) {
		r.respondError(ev, CodeNotFound, "unknown conversation", ErrConversationNotFound)
		return
	}

	r.log.Printf("directory lookup for %q: %v", r.conversationId, err)
	r.respondError(ev, CodeForbidden, "authorization could not be confirmed", ErrForbidden)
}

func (r *Room) respondError(ev *ClientEvent, code, detail string, err error) {
	if ev.reply != nil {
		ev.reply <- postResult{err: err}
		return
	}

	if ev.Type == EventTyping {
		// typing failures are logged, never surfaced
		r.log.Printf("typing event rejected in %q: %s", r.conversationId, code)
		return
	}

	ev.client.queueEvent(errorEvent(ev.Id, r.conversationId, code, detail))
}

// broadcast fans an event out to every connection in the room, including
// the sender's, unless the event names a subject to skip.
func (r *Room) broadcast(ev *ServerEvent) {
	for _, c := range r.relay.registry.RoomMembers(r.conversationId) {
		if ev.SkipSubject != "" && c.principal.SubjectId == ev.SkipSubject {
			continue
		}

		if !c.queueEvent(ev) {
			r.relay.stats.Incr(stats.MessagesDropped)
		}
	}
}

// notifyOffline hands a best-effort notification to the bridge for every
// participant with no live connection in the room, except the sender.
func (r *Room) notifyOffline(participants []types.Participant, msg types.Message) {
	offline := lo.Filter(participants, func(p types.Participant, _ int) bool {
		return p.SubjectId != msg.SenderId && !r.relay.registry.SubjectPresent(r.conversationId, p.SubjectId)
	})

	for _, p := range offline {
		go r.relay.notifier.MessageCreated(p.SubjectId, msg)
	}
}

func toWireMessage(msg store.Message) types.Message {
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}

	return types.Message{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		SenderId:       msg.SenderId,
		SenderName:     msg.SenderName,
		Kind:           msg.Kind,
		Body:           msg.Body,
		PayloadRef:     msg.PayloadRef,
		CreatedAt:      msg.CreatedAt,
		ReadBy:         readBy,
	}
}
