package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/careline/chat-service/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameSize   = 8192
	sendBufferSize = 256
)

// Client is one live connection. The principal is fixed at handshake time
// and never re-resolved for the connection's lifetime.
type Client struct {
	id        string
	conn      *websocket.Conn
	relay     *RelayServer
	log       *log.Logger
	principal types.Principal
	send      chan *ServerEvent
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(principal types.Principal, conn *websocket.Conn, rs *RelayServer, l *log.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	return &Client{
		id:        id,
		conn:      conn,
		relay:     rs,
		log:       l,
		principal: principal,
		send:      make(chan *ServerEvent, sendBufferSize),
		rooms:     make(map[string]*Room),
		stop:      make(chan struct{}),
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Principal() types.Principal {
	return c.principal
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(errorEvent(0, "", CodeValidation, "malformed event"))
			continue
		}

		if err := validateEvent(&ev); err != nil {
			c.queueEvent(errorEvent(ev.Id, ev.ConversationId, CodeValidation, err.Error()))
			continue
		}

		ev.client = c
		ev.principal = c.principal

		c.route(&ev)
	}
}

// route dispatches a validated event. Join goes through the relay server,
// which owns room lifecycle; everything else requires a prior join and is
// handed straight to the conversation's room.
func (c *Client) route(ev *ClientEvent) {
	if ev.Type == EventJoin {
		c.relay.routeEvent(ev)
		return
	}

	r := c.getRoom(ev.ConversationId)
	if r == nil {
		if ev.Type == EventTyping {
			// typing is best-effort, never surfaced
			c.log.Printf("dropping typing event for unjoined conversation %q", ev.ConversationId)
			return
		}
		c.queueEvent(errorEvent(ev.Id, ev.ConversationId, CodeNotJoined, "conversation not joined"))
		return
	}

	if !r.enqueue(ev) {
		c.log.Printf("event channel full for conversation %q", ev.ConversationId)
		if ev.Type != EventTyping {
			c.queueEvent(errorEvent(ev.Id, ev.ConversationId, CodeUnavailable, "conversation busy"))
		}
	}
}

func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("send buffer full for connection %q", c.id)
		return false
	}

	return true
}

func (c *Client) writeFrame(msgType int, payload []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, payload); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write frame: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs exactly once when the read pump exits. It must leave every
// joined room before deregistering so no broadcast targets a dead
// connection.
func (c *Client) cleanup() {
	c.leaveAllRooms()
	c.relay.DeregisterClient(c)
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.roomsLock.RUnlock()

	for _, r := range rooms {
		r.leave(c)
	}
}

func (c *Client) delRoom(conversationId string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, conversationId)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.conversationId] = r
}

func (c *Client) getRoom(conversationId string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[conversationId]
}
