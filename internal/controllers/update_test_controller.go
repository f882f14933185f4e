package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/services"
	"github.com/osvaldoandrade/formq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type updateTestController struct{ svc services.TestsService }

func NewUpdateTestController(svc services.TestsService) *updateTestController {
	return &updateTestController{svc}
}

func (h *updateTestController) Handle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var patch domain.TestPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	test, err := h.svc.Update(c.Request.Context(), middleware.UserID(c), id, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": test.ID})
}
