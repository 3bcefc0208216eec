package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chatbuffer/internal/app/message"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	EventMessageCreate     = "message:create"
	EventMessageList       = "message:list"
	EventMessageGet        = "message:get"
	EventMessageUpdate     = "message:update"
	EventMessageDelete     = "message:delete"
	EventStreamSubscribe   = "stream:subscribe"
	EventStreamUnsubscribe = "stream:unsubscribe"

	EventError = "error"
)

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("invalid event payload")
	errHubStopped   = errors.New("hub stopped")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inbound struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type outbound struct {
	Event     string      `json:"event"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data"`
}

type errorPayload struct {
	Code   int                  `json:"code"`
	Error  string               `json:"error"`
	Fields []message.FieldError `json:"fields,omitempty"`
}

type streamPayload struct {
	StreamKey string `json:"stream_key"`
}

func (h *Hub) ServeWS(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		h.logger.Warnw("WebSocket connection rejected: user_id missing",
			"client_ip", c.ClientIP(),
			"user_agent", c.GetHeader("User-Agent"),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("Failed to upgrade connection",
			"user_id", userID,
			"error", err,
		)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := newClient(h, conn, userID)
	if !h.deliver(h.register, client) {
		_ = conn.Close()
		return
	}

	h.logger.Infow("WebSocket connection established",
		"client_id", client.ID,
		"user_id", client.UserID,
		"client_ip", c.ClientIP(),
		"user_agent", c.GetHeader("User-Agent"),
	)

	go client.writeLoop()

	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleFrame(ctx, client, data)
	}
	h.deliver(h.unregister, client)
}

func (h *Hub) handleFrame(ctx context.Context, client *Client, frame []byte) {
	var req inbound
	if err := json.Unmarshal(frame, &req); err != nil || req.Event == "" {
		h.reply(client, outbound{Event: EventError, Data: errorPayload{
			Code:  http.StatusBadRequest,
			Error: errBadPayload.Error(),
		}})
		return
	}

	h.gate.RLock()
	defer h.gate.RUnlock()
	if h.closing {
		h.reply(client, outbound{Event: EventError, RequestID: req.RequestID, Data: h.describeError(req.Event, errHubStopped)})
		return
	}

	data, err := h.dispatch(ctx, client, req)
	if err != nil {
		h.reply(client, outbound{Event: EventError, RequestID: req.RequestID, Data: h.describeError(req.Event, err)})
		return
	}
	h.reply(client, outbound{Event: req.Event + ":ok", RequestID: req.RequestID, Data: data})
}

func (h *Hub) dispatch(ctx context.Context, client *Client, req inbound) (interface{}, error) {
	switch req.Event {
	case EventMessageCreate:
		var p struct {
			StreamKey string  `json:"stream_key"`
			Text      string  `json:"text"`
			ThreadID  *string `json:"thread_id,omitempty"`
		}
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		h.count("create")
		return h.service.CreateMessage(ctx, message.CreateMessageRequest{
			StreamKey: p.StreamKey,
			UserID:    client.UserID,
			Text:      p.Text,
			ThreadID:  p.ThreadID,
		})

	case EventMessageList:
		var p message.ListMessagesRequest
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		h.count("list")
		messages, err := h.service.ListMessages(ctx, p)
		if err != nil {
			return nil, err
		}
		return message.MessageListResponse{Messages: messages}, nil

	case EventMessageGet:
		var p struct {
			MessageID string `json:"message_id"`
		}
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		h.count("get")
		return h.service.GetMessageByID(ctx, p.MessageID)

	case EventMessageUpdate:
		var p message.UpdateMessageRequest
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		h.count("update")
		return h.service.UpdateMessage(ctx, p)

	case EventMessageDelete:
		var p message.DeleteMessageRequest
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		h.count("delete")
		return h.service.DeleteMessage(ctx, p)

	case EventStreamSubscribe, EventStreamUnsubscribe:
		var p streamPayload
		if err := decode(req.Data, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.StreamKey) == "" {
			return nil, &message.ValidationError{Fields: []message.FieldError{{
				Field:   "stream_key",
				Rule:    "required",
				Message: "stream_key is required",
			}}}
		}
		if !h.setSubscription(client, p.StreamKey, req.Event == EventStreamSubscribe) {
			return nil, errHubStopped
		}
		return p, nil
	}
	return nil, errUnknownEvent
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload
	}
	return nil
}

func (h *Hub) count(op string) {
	if h.metrics != nil {
		h.metrics.IngressRequests.WithLabelValues("ws", op).Inc()
	}
}

func (h *Hub) describeError(event string, err error) errorPayload {
	switch {
	case errors.Is(err, errUnknownEvent), errors.Is(err, errBadPayload):
		return errorPayload{Code: http.StatusBadRequest, Error: err.Error()}
	case errors.Is(err, errHubStopped):
		return errorPayload{Code: http.StatusServiceUnavailable, Error: err.Error()}
	}

	status, body := message.ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("WebSocket event failed", "event", event, "error", err)
	}
	return errorPayload{Code: status, Error: body.Error, Fields: body.Fields}
}

func (h *Hub) reply(client *Client, out outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		h.logger.Errorw("Failed to encode reply", "event", out.Event, "error", err)
		return
	}
	if !client.enqueue(data) {
		h.logger.Debugw("Reply dropped", "client_id", client.ID, "event", out.Event)
	}
}
