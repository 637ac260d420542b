package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openscholar/journal-api/internal/models"
	"github.com/openscholar/journal-api/internal/service"
	appErrors "github.com/openscholar/journal-api/pkg/errors"
	"github.com/openscholar/journal-api/pkg/response"
)

type auditLister interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
}

// AuditHandler exposes the audit trail and its export pipeline.
type AuditHandler struct {
	audit   auditLister
	exports *service.AuditExportService
}

// NewAuditHandler creates a new handler.
func NewAuditHandler(audit auditLister, exports *service.AuditExportService) *AuditHandler {
	return &AuditHandler{audit: audit, exports: exports}
}

func auditFilterFromQuery(c *gin.Context) (models.AuditFilter, error) {
	filter := models.AuditFilter{Action: c.Query("action")}
	if userID := c.Query("user_id"); userID != "" {
		filter.UserID = &userID
	}
	if from := c.Query("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339")
		}
		filter.From = ts
	}
	if to := c.Query("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339")
		}
		filter.To = ts
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	return filter, nil
}

// List godoc
// @Summary List audit entries
// @Description List session and account audit entries, newest first
// @Tags Audit
// @Produce json
// @Param user_id query string false "Filter by user"
// @Param action query string false "Filter by action"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	entries, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries"))
		return
	}

	response.JSON(c, http.StatusOK, entries, nil)
}

// RequestExport godoc
// @Summary Request audit export
// @Description Queue a CSV or PDF export of the audit trail
// @Tags Audit
// @Accept json
// @Produce json
// @Param format query string true "csv or pdf"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/audit/exports [post]
func (h *AuditHandler) RequestExport(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}

	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	requestedBy := ""
	if principal := principalFromContext(c); principal != nil {
		requestedBy = principal.SubjectID
	}

	job, err := h.exports.Request(c.Request.Context(), requestedBy, c.DefaultQuery("format", models.ExportFormatCSV), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, job)
}

// GetExport godoc
// @Summary Get audit export
// @Description Return the state of a queued export, including its download link when ready
// @Tags Audit
// @Produce json
// @Param id path string true "Export id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/audit/exports/{id} [get]
func (h *AuditHandler) GetExport(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}

	job, err := h.exports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, job, nil)
}

// DownloadExport godoc
// @Summary Download audit export
// @Description Stream a rendered export using a signed token
// @Tags Audit
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /admin/audit/exports/download [get]
func (h *AuditHandler) DownloadExport(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}

	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter required"))
		return
	}

	file, name, err := h.exports.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.FileAttachment(file.Name(), filepath.Base(name))
}
