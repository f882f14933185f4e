package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/services"

	"github.com/gin-gonic/gin"
)

// multipartSlack covers the multipart envelope around the file part.
const multipartSlack = 64 << 10

type uploadDocumentController struct {
	svc      services.DocumentsService
	maxBytes int64
}

func NewUploadDocumentController(svc services.DocumentsService, maxBytes int64) *uploadDocumentController {
	return &uploadDocumentController{svc: svc, maxBytes: maxBytes}
}

func (h *uploadDocumentController) Handle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartSlack)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	doc, err := h.svc.Upload(c.Request.Context(), middleware.UserID(c), id, services.DocumentUpload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Scope:       c.PostForm("scope"),
		Data:        data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

type listDocumentsController struct{ svc services.DocumentsService }

func NewListDocumentsController(svc services.DocumentsService) *listDocumentsController {
	return &listDocumentsController{svc: svc}
}

func (h *listDocumentsController) Handle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	docs, err := h.svc.List(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}
