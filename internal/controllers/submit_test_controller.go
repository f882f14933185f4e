package controllers

import (
	"fmt"
	"net/http"

	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/services"
	"github.com/osvaldoandrade/formq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type submitTestController struct{ svc services.BatchService }

func NewSubmitTestController(svc services.BatchService) *submitTestController {
	return &submitTestController{svc}
}

type submitReq struct {
	Quantity int                      `json:"quantity" binding:"required"`
	Answers  []domain.AnswerDirective `json:"answers"`
	Webhook  string                   `json:"webhook,omitempty"`
}

func (h *submitTestController) Handle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	jobID, err := h.svc.Submit(c.Request.Context(), services.SubmitRequest{
		TestID:     id,
		Quantity:   req.Quantity,
		Directives: req.Answers,
		UserID:     middleware.UserID(c),
		Webhook:    req.Webhook,
		RequestID:  middleware.RequestIDFromContext(c.Request.Context()),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"message": fmt.Sprintf("batch of %d runs accepted", req.Quantity),
	})
}
