package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/services"

	"github.com/gin-gonic/gin"
)

type listJobRunsController struct{ svc services.TestsService }

func NewListJobRunsController(svc services.TestsService) *listJobRunsController {
	return &listJobRunsController{svc: svc}
}

func (h *listJobRunsController) Handle(c *gin.Context) {
	runs, err := h.svc.ListRuns(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "runs": runs})
}

type getTestRunController struct{ svc services.TestsService }

func NewGetTestRunController(svc services.TestsService) *getTestRunController {
	return &getTestRunController{svc: svc}
}

func (h *getTestRunController) Handle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	run, err := h.svc.GetRun(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
