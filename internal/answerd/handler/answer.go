// Package handler provides HTTP handlers for the answer service.
package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/answerd/internal/answerd/biz"
	"github.com/kart-io/answerd/internal/answerd/metrics"
)

// AnswerHandler handles answer HTTP requests.
type AnswerHandler struct {
	service *biz.Service
}

// NewAnswerHandler creates a new AnswerHandler.
func NewAnswerHandler(service *biz.Service) *AnswerHandler {
	return &AnswerHandler{service: service}
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CreateAnswer answers one query synchronously.
func (h *AnswerHandler) CreateAnswer(c *gin.Context) {
	var req biz.AnswerQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	resp, err := h.service.AnswerQuery(c.Request.Context(), &req)
	if err != nil {
		status := statusFor(err)
		c.JSON(status, ErrorResponse{Code: status, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// StreamAnswer answers one query as a server-sent event stream.
func (h *AnswerHandler) StreamAnswer(c *gin.Context) {
	var req biz.AnswerQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	events, err := h.service.AnswerQueryStream(c.Request.Context(), &req)
	if err != nil {
		status := statusFor(err)
		c.JSON(status, ErrorResponse{Code: status, Message: err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.Type, ev.Data)
		return true
	})
}

// Stats returns the service metrics snapshot.
func (h *AnswerHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.Get().Stats())
}

// Healthz reports liveness.
func (h *AnswerHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFor(err error) int {
	var validationErr *biz.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	var groundingErr *biz.GroundingError
	if errors.As(err, &groundingErr) {
		return http.StatusUnprocessableEntity
	}
	var retrievalErr *biz.RetrievalError
	if errors.As(err, &retrievalErr) {
		return http.StatusBadGateway
	}
	var generationErr *biz.GenerationError
	if errors.As(err, &generationErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
