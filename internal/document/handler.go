package document

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/export"
	"collaborative-office-suite/internal/middleware"
	"collaborative-office-suite/internal/utils"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// maxImportSize caps uploaded files.
const maxImportSize = 10 << 20

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type CreateRequest struct {
	Title       string `json:"title" binding:"max=255"`
	Description string `json:"description" binding:"max=1000"`
}

type RenameRequest struct {
	Title string `json:"title" binding:"max=255"`
}

func (h *Handler) ShowUserDocuments(c *gin.Context) {
	page, pageSize := utils.GetPaginationParams(c)
	query := ListQuery{
		Search:  c.Query("q"),
		Sort:    c.DefaultQuery("sort", SortModifiedDesc),
		Page:    page,
		PerPage: pageSize,
	}

	result, err := h.service.ListDocuments(c.Request.Context(), middleware.CurrentIdentity(c), query)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	doc, err := h.service.CreateDocument(c.Request.Context(), middleware.CurrentIdentity(c), form.Title, form.Description)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) CreateFromTemplate(c *gin.Context) {
	doc, err := h.service.CreateFromTemplate(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("name"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// Import reads the multipart "file" field.
func (h *Handler) Import(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.Error(errors.InvalidInput("No file uploaded", err))
		return
	}
	if header.Size > maxImportSize {
		c.Error(errors.InvalidInput("File is too large", nil))
		return
	}

	f, err := header.Open()
	if err != nil {
		c.Error(errors.InvalidInput("Error reading file", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImportSize))
	if err != nil {
		c.Error(errors.InvalidInput("Error reading file", err))
		return
	}

	doc, err := h.service.ImportFile(c.Request.Context(), middleware.CurrentIdentity(c), header.Filename, data)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) ShowDocument(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) Rename(c *gin.Context) {
	var input RenameRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	doc, err := h.service.RenameDocument(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id"), input.Title)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) Duplicate(c *gin.Context) {
	doc, err := h.service.DuplicateDocument(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// DeleteDocument moves the document to the trash.
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.service.DeleteDocument(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Export(c *gin.Context) {
	format := export.Format(c.DefaultQuery("format", string(export.FormatHTML)))

	file, err := h.service.ExportDocument(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id"), format)
	if err != nil {
		c.Error(err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(file.Name)))
	c.Data(http.StatusOK, file.ContentType, file.Body)
}

func (h *Handler) ShowTrash(c *gin.Context) {
	items, err := h.service.ListTrash(c.Request.Context(), middleware.CurrentIdentity(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *Handler) Restore(c *gin.Context) {
	doc, err := h.service.RestoreDocument(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) DeletePermanently(c *gin.Context) {
	if err := h.service.DeletePermanently(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) EmptyTrash(c *gin.Context) {
	n, err := h.service.EmptyTrash(c.Request.Context(), middleware.CurrentIdentity(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
