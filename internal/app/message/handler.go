package message

import (
	"errors"
	"net/http"
	"strconv"

	"chatbuffer/internal/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler interface {
	CreateMessage(c *gin.Context)
	GetMessagesByStreamKey(c *gin.Context)
	GetMessageByID(c *gin.Context)
	UpdateMessage(c *gin.Context)
	DeleteMessage(c *gin.Context)
	Compact(c *gin.Context)
	GetBufferStats(c *gin.Context)
}

type handler struct {
	service Service
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewHandler(service Service, logger *zap.Logger, m *metrics.Metrics) Handler {
	return &handler{
		service: service,
		logger:  logger.Sugar(),
		metrics: m,
	}
}

// @Summary Create message
// @Tags Messages
// @Accept json
// @Produce json
// @Param stream_key path string true "Stream key"
// @Success 201 {object} Message
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /api/messages/{stream_key} [post]
func (h *handler) CreateMessage(c *gin.Context) {
	h.metrics.IngressRequests.WithLabelValues("http", "create").Inc()

	var req struct {
		UserID   string  `json:"user_id"`
		Text     string  `json:"text"`
		ThreadID *string `json:"thread_id,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	message, err := h.service.CreateMessage(c.Request.Context(), CreateMessageRequest{
		StreamKey: c.Param("stream_key"),
		UserID:    req.UserID,
		Text:      req.Text,
		ThreadID:  req.ThreadID,
	})
	if err != nil {
		h.writeError(c, "CreateMessage", err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

// @Summary List messages of a stream, oldest first
// @Tags Messages
// @Produce json
// @Param stream_key path string true "Stream key"
// @Param limit query int false "Most recent N"
// @Param include_deleted query bool false "Include soft-deleted messages"
// @Success 200 {object} MessageListResponse
// @Router /api/messages/{stream_key} [get]
func (h *handler) GetMessagesByStreamKey(c *gin.Context) {
	h.metrics.IngressRequests.WithLabelValues("http", "list").Inc()

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		limit = 0
	}
	includeDeleted, _ := strconv.ParseBool(c.DefaultQuery("include_deleted", "false"))

	messages, err := h.service.ListMessages(c.Request.Context(), ListMessagesRequest{
		StreamKey:      c.Param("stream_key"),
		Limit:          limit,
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		h.writeError(c, "GetMessagesByStreamKey", err)
		return
	}

	c.JSON(http.StatusOK, MessageListResponse{Messages: messages})
}

func (h *handler) GetMessageByID(c *gin.Context) {
	h.metrics.IngressRequests.WithLabelValues("http", "get").Inc()

	message, err := h.service.GetMessageByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "GetMessageByID", err)
		return
	}

	c.JSON(http.StatusOK, message)
}

// @Summary Edit message text
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path string true "Message ID"
// @Success 200 {object} Message
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/messages/message/{id} [patch]
func (h *handler) UpdateMessage(c *gin.Context) {
	h.metrics.IngressRequests.WithLabelValues("http", "update").Inc()

	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	message, err := h.service.UpdateMessage(c.Request.Context(), UpdateMessageRequest{
		MessageID: c.Param("id"),
		Text:      req.Text,
	})
	if err != nil {
		h.writeError(c, "UpdateMessage", err)
		return
	}

	c.JSON(http.StatusOK, message)
}

// @Summary Soft-delete message
// @Tags Messages
// @Produce json
// @Param id path string true "Message ID"
// @Param for_all query bool false "Delete for everyone"
// @Success 200 {object} Message
// @Failure 404 {object} ErrorResponse
// @Router /api/messages/message/{id} [delete]
func (h *handler) DeleteMessage(c *gin.Context) {
	h.metrics.IngressRequests.WithLabelValues("http", "delete").Inc()

	forAll, err := strconv.ParseBool(c.DefaultQuery("for_all", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "for_all must be a boolean"})
		return
	}

	message, err := h.service.DeleteMessage(c.Request.Context(), DeleteMessageRequest{
		MessageID: c.Param("id"),
		ForAll:    forAll,
	})
	if err != nil {
		h.writeError(c, "DeleteMessage", err)
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *handler) Compact(c *gin.Context) {
	moved, err := h.service.Compact(c.Request.Context())
	if err != nil {
		h.writeError(c, "Compact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

func (h *handler) GetBufferStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, "GetBufferStats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handler) writeError(c *gin.Context, op string, err error) {
	status, body := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw(op+": failed", "error", err)
	} else {
		h.logger.Debugw(op+": rejected", "status", status, "error", err)
	}
	c.JSON(status, body)
}

// ErrorStatus maps service errors to an HTTP status and body. The websocket
// gateway reuses it for its error codes.
func ErrorStatus(err error) (int, ErrorResponse) {
	var verr *ValidationError
	var perr *PersistenceError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: verr.Fields}
	case errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound, ErrorResponse{Error: ErrMessageNotFound.Error()}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, ErrorResponse{Error: ErrRateLimited.Error()}
	case errors.As(err, &perr):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "durable store unavailable"}
	case errors.Is(err, ErrWriterStopped):
		return http.StatusServiceUnavailable, ErrorResponse{Error: ErrWriterStopped.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}
