package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/services"

	"github.com/gin-gonic/gin"
)

type getTestController struct{ svc services.TestsService }

func NewGetTestController(svc services.TestsService) *getTestController {
	return &getTestController{svc: svc}
}

func (h *getTestController) Handle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	test, err := h.svc.Get(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

type listTestsController struct{ svc services.TestsService }

func NewListTestsController(svc services.TestsService) *listTestsController {
	return &listTestsController{svc: svc}
}

func (h *listTestsController) Handle(c *gin.Context) {
	tests, err := h.svc.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tests": tests})
}
