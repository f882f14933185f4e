package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/services"

	"github.com/gin-gonic/gin"
)

type importTestController struct{ svc services.TestsService }

func NewImportTestController(svc services.TestsService) *importTestController {
	return &importTestController{svc}
}

type importReq struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title,omitempty"`
}

func (h *importTestController) Handle(c *gin.Context) {
	var req importReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	test, err := h.svc.Import(c.Request.Context(), middleware.UserID(c), req.URL, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": test.ID})
}
