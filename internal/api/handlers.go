package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/careline/chat-service/internal/directory"
	"github.com/careline/chat-service/internal/relay"
	"github.com/careline/chat-service/internal/store"
	"github.com/careline/chat-service/internal/types"
)

type SendMessageRequest struct {
	Kind       string `json:"kind"`
	Body       string `json:"body"`
	PayloadRef string `json:"payload_ref"`
}

type UnreadCountResponse struct {
	ConversationId string `json:"conversation_id"`
	Count          int    `json:"count"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// authorizeParticipant applies the same check as a socket join: the
// principal must appear in the directory's participant set. Directory
// failures deny access.
func (s *ChatApp) authorizeParticipant(r *http.Request, conversationId string, principal types.Principal) *ApiError {
	participants, err := s.directory.Participants(r.Context(), conversationId)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return NewNotFoundError()
		}
		s.log.Printf("directory lookup for %q: %v", conversationId, err)
		return NewForbiddenError()
	}

	ok := lo.ContainsBy(participants, func(p types.Participant) bool {
		return p.SubjectId == principal.SubjectId
	})
	if !ok {
		return NewForbiddenError()
	}

	return nil
}

func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.PathValue("conversationId")
	if errResp := s.authorizeParticipant(r, conversationId, principal); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var cursor int64
	var limit int
	var err error

	if cursorStr := r.URL.Query().Get("cursor"); cursorStr != "" {
		cursor, err = strconv.ParseInt(cursorStr, 10, 64)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.store.ListMessages(r.Context(), conversationId, cursor, limit)
	if err != nil {
		s.log.Printf("list messages: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireMessages := lo.Map(messages, func(msg store.Message, _ int) types.Message {
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
	})

	s.writeJson(w, http.StatusOK, wireMessages)
}

// postMessage is the send path for clients that can't hold a persistent
// connection. It shares validation, authorization, and ordering with the
// socket path via the relay.
func (s *ChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.PathValue("conversationId")
	msg, err := s.rs.PostMessage(r.Context(), principal, conversationId, relay.Payload{
		Kind:       req.Kind,
		Body:       req.Body,
		PayloadRef: req.PayloadRef,
	})
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, relay.ErrValidation):
			errResp = NewBadRequestError()
		case errors.Is(err, relay.ErrForbidden):
			errResp = NewForbiddenError()
		case errors.Is(err, relay.ErrConversationNotFound):
			errResp = NewNotFoundError()
		case errors.Is(err, relay.ErrStoreUnavailable), errors.Is(err, relay.ErrUnavailable):
			errResp = NewServiceUnavailableError(err)
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) getUnreadCount(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.PathValue("conversationId")
	if errResp := s.authorizeParticipant(r, conversationId, principal); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	count, err := s.store.UnreadCount(r.Context(), conversationId, principal.SubjectId)
	if err != nil {
		s.log.Printf("unread count: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, UnreadCountResponse{
		ConversationId: conversationId,
		Count:          count,
	})
}

func (s *ChatApp) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveWs authenticates the handshake and hands the connection to the
// relay. A rejected credential closes the handshake with 401 before any
// upgrade happens.
func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	credential := bearerCredential(r)

	ctx, cancel := withVerifyTimeout(r)
	defer cancel()

	principal, err := s.verifier.Verify(ctx, credential)
	if err != nil {
		s.log.Printf("ws handshake rejected: %v", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client, err := relay.NewClient(principal, conn, s.rs, s.log)
	if err != nil {
		s.log.Println("new client:", err)
		conn.Close()
		return
	}

	s.rs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
