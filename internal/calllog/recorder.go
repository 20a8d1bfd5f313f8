package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apifleet/apimanager/internal/dispatch"
	"github.com/apifleet/apimanager/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recorder persists one call log row per dispatch attempt and keeps the
// last-tested markers of the dispatch source current. Persistence is
// best-effort: a storage failure is logged and never fails the request.
type Recorder struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRecorder returns a Recorder backed by the given database.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// RecordProviderCall logs a dispatch attempt against a provider endpoint and
// refreshes the provider's test markers.
func (r *Recorder) RecordProviderCall(ctx context.Context, providerID uint64, endpointID *uint64, req dispatch.Request, result dispatch.Result, dispatchErr error) {
	row := buildRow(req, result, dispatchErr)
	row.ProviderID = &providerID
	row.EndpointID = endpointID
	r.insert(ctx, row)
	r.markTested(ctx, &models.APIProvider{}, providerID, row.Success)
}

// RecordExternalAPICall logs a dispatch attempt against a legacy registration
// and refreshes its test markers.
func (r *Recorder) RecordExternalAPICall(ctx context.Context, externalAPIID uint64, req dispatch.Request, result dispatch.Result, dispatchErr error) {
	row := buildRow(req, result, dispatchErr)
	row.ExternalAPIID = &externalAPIID
	r.insert(ctx, row)
	r.markTested(ctx, &models.ExternalAPI{}, externalAPIID, row.Success)
}

// PurgeOlderThan deletes call log rows older than the retention window and
// reports how many were removed.
func (r *Recorder) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := r.now().UTC().Add(-age)
	tx := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.CallLog{})
	if tx.Error != nil {
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}

func buildRow(req dispatch.Request, result dispatch.Result, dispatchErr error) models.CallLog {
	row := models.CallLog{
		Method:          req.Method,
		URL:             req.URL,
		StatusCode:      result.StatusCode,
		Success:         dispatchErr == nil && result.OK(),
		DurationMs:      result.Duration.Milliseconds(),
		ResponseSize:    int64(len(result.Body)),
		ResponseHeaders: headersJSON(result),
	}
	if dispatchErr != nil {
		row.ErrorMessage = dispatchErr.Error()
	} else if !result.OK() {
		row.ErrorMessage = fmt.Sprintf("upstream returned status %d", result.StatusCode)
	}
	return row
}

// headersJSON flattens response headers to their first values.
func headersJSON(result dispatch.Result) datatypes.JSON {
	if len(result.Headers) == 0 {
		return nil
	}
	flat := make(map[string]string, len(result.Headers))
	for name, values := range result.Headers {
		if len(values) > 0 {
			flat[name] = values[0]
		}
	}
	payload, err := json.Marshal(flat)
	if err != nil {
		return nil
	}
	return datatypes.JSON(payload)
}

func (r *Recorder) insert(ctx context.Context, row models.CallLog) {
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("calllog: persist call log")
	}
}

// markTested updates last_tested and test_status on the dispatch source.
func (r *Recorder) markTested(ctx context.Context, model any, id uint64, success bool) {
	status := models.TestStatusError
	if success {
		status = models.TestStatusSuccess
	}
	now := r.now().UTC()
	errUpdate := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(map[string]any{
		"last_tested": now,
		"test_status": status,
		"updated_at":  now,
	}).Error
	if errUpdate != nil {
		log.WithError(errUpdate).Warn("calllog: update test status")
	}
}
