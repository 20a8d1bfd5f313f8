package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apifleet/apimanager/internal/calllog"
	"github.com/apifleet/apimanager/internal/models"
	"gorm.io/gorm"
)

// CallLogHandler exposes administrative call log operations.
type CallLogHandler struct {
	db       *gorm.DB
	recorder *calllog.Recorder
}

// NewCallLogHandler constructs a CallLogHandler.
func NewCallLogHandler(db *gorm.DB) *CallLogHandler {
	return &CallLogHandler{db: db, recorder: calllog.NewRecorder(db)}
}

// List returns paginated call logs across all targets, newest first.
func (h *CallLogHandler) List(c *gin.Context) {
	listCallLogs(c, h.db, func(q *gorm.DB) *gorm.DB {
		return q
	})
}

// Purge deletes call logs older than the requested age in days.
func (h *CallLogHandler) Purge(c *gin.Context) {
	days, errParse := strconv.Atoi(strings.TrimSpace(c.Query("days")))
	if errParse != nil || days < 1 {
		respondError(c, http.StatusBadRequest, "invalid days")
		return
	}

	removed, errPurge := h.recorder.PurgeOlderThan(c.Request.Context(), time.Duration(days)*24*time.Hour)
	if errPurge != nil {
		respondError(c, http.StatusInternalServerError, "purge call logs failed")
		return
	}
	respondData(c, http.StatusOK, gin.H{"removed": removed})
}

// listCallLogs writes a paginated call log response for the scoped query.
func listCallLogs(c *gin.Context, conn *gorm.DB, scope func(*gorm.DB) *gorm.DB) {
	page, limit := parsePageParams(c.Query("page"), c.Query("limit"))
	base := func() *gorm.DB {
		return scope(conn.WithContext(c.Request.Context()).Model(&models.CallLog{}))
	}

	var total int64
	if errCount := base().Count(&total).Error; errCount != nil {
		respondError(c, http.StatusInternalServerError, "count call logs failed")
		return
	}
	var rows []models.CallLog
	if errFind := base().
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		respondError(c, http.StatusInternalServerError, "list call logs failed")
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatCallLogRow(&rows[i]))
	}
	respondData(c, http.StatusOK, gin.H{
		"logs":  out,
		"page":  page,
		"limit": limit,
		"total": total,
	})
}

// formatCallLogRow shapes a call log row for API responses.
func formatCallLogRow(row *models.CallLog) gin.H {
	return gin.H{
		"id":              row.ID,
		"providerId":      row.ProviderID,
		"endpointId":      row.EndpointID,
		"externalApiId":   row.ExternalAPIID,
		"method":          row.Method,
		"url":             row.URL,
		"statusCode":      row.StatusCode,
		"success":         row.Success,
		"durationMs":      row.DurationMs,
		"responseSize":    row.ResponseSize,
		"responseHeaders": row.ResponseHeaders,
		"error":           row.ErrorMessage,
		"createdAt":       row.CreatedAt,
	}
}
