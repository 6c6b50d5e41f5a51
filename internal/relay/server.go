package relay

import (
	"context"
	"errors"
	"log"

	"github.com/careline/chat-service/internal/directory"
	"github.com/careline/chat-service/internal/notify"
	"github.com/careline/chat-service/internal/stats"
	"github.com/careline/chat-service/internal/store"
	"github.com/careline/chat-service/internal/types"
)

// Sentinel errors for the synchronous (REST) send path.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrForbidden            = errors.New("not a conversation participant")
	ErrMessageNotFound      = errors.New("message not found")
	ErrValidation           = errors.New("invalid message payload")
	ErrStoreUnavailable     = errors.New("message store unavailable")
	ErrUnavailable          = errors.New("relay unavailable")
)

// Payload is the REST-path equivalent of an inbound message event.
type Payload struct {
	Kind       string
	Body       string
	PayloadRef string
}

// RelayServer owns room lifecycle and the connection registry. A single
// run-loop goroutine multiplexes registration and room routing; each
// loaded room runs its own goroutine.
type RelayServer struct {
	log       *log.Logger
	store     store.MessageStore
	directory directory.Directory
	notifier  notify.Notifier
	stats     stats.StatsProvider
	registry  *Registry

	rooms          map[string]*Room
	routeChan      chan *ClientEvent
	registerChan   chan *Client
	deregisterChan chan *Client
	unloadChan     chan string
	stop           chan struct{}
	done           chan struct{}
}

func NewRelayServer(logger *log.Logger, msgStore store.MessageStore, dir directory.Directory, notifier notify.Notifier, statsProvider stats.StatsProvider) (*RelayServer, error) {
	rs := &RelayServer{
		log:            logger,
		store:          msgStore,
		directory:      dir,
		notifier:       notifier,
		stats:          statsProvider,
		registry:       NewRegistry(),
		rooms:          make(map[string]*Room),
		routeChan:      make(chan *ClientEvent, 256),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		unloadChan:     make(chan string, 64),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, metric := range []string{
		stats.ActiveConnections,
		stats.ActiveConversations,
		stats.MessagesSent,
		stats.MessagesDropped,
		stats.ReadReceipts,
	} {
		statsProvider.RegisterMetric(metric)
	}

	return rs, nil
}

func (rs *RelayServer) Registry() *Registry {
	return rs.registry
}

func (rs *RelayServer) Run() {
	for {
		select {
		case ev := <-rs.routeChan:
			room, ok := rs.rooms[ev.ConversationId]
			if !ok {
				room = newRoom(ev.ConversationId, rs)
				rs.rooms[ev.ConversationId] = room
				rs.stats.Incr(stats.ActiveConversations)
				go room.start()
			}

			if !room.enqueue(ev) {
				rs.log.Printf("event channel full for conversation %q", ev.ConversationId)
				if ev.reply != nil {
					ev.reply <- postResult{err: ErrUnavailable}
				} else if ev.Type != EventTyping {
					ev.client.queueEvent(errorEvent(ev.Id, ev.ConversationId, CodeUnavailable, "conversation busy"))
				}
			}
		case c := <-rs.registerChan:
			rs.log.Printf("adding connection %q for %q", c.id, c.principal.SubjectId)
			rs.registry.Register(c)
			rs.stats.Incr(stats.ActiveConnections)
		case c := <-rs.deregisterChan:
			rs.log.Printf("removing connection %q for %q", c.id, c.principal.SubjectId)
			rs.registry.Unregister(c)
			rs.stats.Decr(stats.ActiveConnections)
		case conversationId := <-rs.unloadChan:
			rs.unloadRoom(conversationId)
		case <-rs.stop:
			rs.log.Println("shutting down rooms")
			for conversationId := range rs.rooms {
				rs.unloadRoom(conversationId)
			}

			close(rs.done)
			return
		}
	}
}

func (rs *RelayServer) unloadRoom(conversationId string) {
	room, ok := rs.rooms[conversationId]
	if !ok {
		return
	}

	delete(rs.rooms, conversationId)
	close(room.exit)
	<-room.done
	rs.stats.Decr(stats.ActiveConversations)
}

// RegisterClient adds an authenticated connection to the registry. The
// connection starts with no joined conversations.
func (rs *RelayServer) RegisterClient(c *Client) {
	select {
	case rs.registerChan <- c:
	case <-rs.done:
	}
}

// DeregisterClient removes a connection and all of its room memberships.
// Idempotent; safe to call for a client that never joined anything.
func (rs *RelayServer) DeregisterClient(c *Client) {
	select {
	case rs.deregisterChan <- c:
	case <-rs.done:
	}
}

// routeEvent hands an event to the run loop, which resolves or creates
// the conversation's room.
func (rs *RelayServer) routeEvent(ev *ClientEvent) {
	select {
	case rs.routeChan <- ev:
	default:
		rs.log.Println("route channel full")
		if ev.reply != nil {
			ev.reply <- postResult{err: ErrUnavailable}
		} else if ev.client != nil {
			ev.client.queueEvent(errorEvent(ev.Id, ev.ConversationId, CodeUnavailable, "server busy"))
		}
	}
}

// PostMessage is the REST send path. It funnels through the same
// per-conversation room goroutine as socket sends, so REST and socket
// messages share one ordering.
func (rs *RelayServer) PostMessage(ctx context.Context, principal types.Principal, conversationId string, payload Payload) (types.Message, error) {
	if err := validateSendFields(payload.Kind, payload.Body, payload.PayloadRef); err != nil {
		return types.Message{}, errors.Join(ErrValidation, err)
	}

	ev := &ClientEvent{
		Type:           EventMessage,
		ConversationId: conversationId,
		Kind:           payload.Kind,
		Body:           payload.Body,
		PayloadRef:     payload.PayloadRef,
		principal:      principal,
		reply:          make(chan postResult, 1),
	}

	select {
	case rs.routeChan <- ev:
	case <-rs.done:
		return types.Message{}, ErrUnavailable
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}

	select {
	case res := <-ev.reply:
		return res.msg, res.err
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

func (rs *RelayServer) Shutdown(ctx context.Context) error {
	rs.log.Println("stopping connections")
	for _, c := range rs.registry.Clients() {
		c.stopClient()
	}

	close(rs.stop)

	select {
	case <-rs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
