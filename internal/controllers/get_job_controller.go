package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/services"

	"github.com/gin-gonic/gin"
)

type getJobController struct{ svc services.BatchService }

func NewGetJobController(svc services.BatchService) *getJobController {
	return &getJobController{svc: svc}
}

func (h *getJobController) Handle(c *gin.Context) {
	job, err := h.svc.Status(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
