package healthcheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apifleet/apimanager/internal/calllog"
	"github.com/apifleet/apimanager/internal/dispatch"
	"github.com/apifleet/apimanager/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Checker periodically re-tests active external APIs and records the outcome
// of each probe in the call log.
type Checker struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	recorder   *calllog.Recorder
	interval   time.Duration
}

// NewChecker constructs a health checker sweeping at the given interval. A
// non-positive interval disables the checker.
func NewChecker(db *gorm.DB, interval time.Duration) *Checker {
	if db == nil {
		return nil
	}
	return &Checker{
		db:         db,
		dispatcher: dispatch.NewDispatcher(),
		recorder:   calllog.NewRecorder(db),
		interval:   interval,
	}
}

// Start runs the check loop in the background.
func (c *Checker) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if c.interval <= 0 {
		log.Info("health checker disabled")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("health checker started (interval=%s)", c.interval)
}

func (c *Checker) run(ctx context.Context) {
	if err := c.CheckOnce(ctx); err != nil {
		log.WithError(err).Warn("health checker: initial sweep failed")
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckOnce(ctx); err != nil {
				log.WithError(err).Warn("health checker: sweep failed")
			}
		}
	}
}

// CheckOnce probes every active external API whose endpoint path carries no
// unresolved placeholders. Probe failures are logged per API and never abort
// the sweep.
func (c *Checker) CheckOnce(ctx context.Context) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("health checker: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var apis []models.ExternalAPI
	if errFind := c.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&apis).Error; errFind != nil {
		return fmt.Errorf("health checker: load external apis: %w", errFind)
	}

	checked := 0
	for _, api := range apis {
		if errCtx := ctx.Err(); errCtx != nil {
			return errCtx
		}
		if strings.Contains(api.EndpointPath, "{") {
			continue
		}
		c.checkOne(ctx, api)
		checked++
	}
	if checked > 0 {
		log.Debugf("health checker: probed %d external apis", checked)
	}
	return nil
}

func (c *Checker) checkOne(ctx context.Context, api models.ExternalAPI) {
	configs := dispatch.ResolveAuthConfigs(api.AuthType, api.AuthConfig, api.AuthConfigs)
	req := dispatch.Request{
		Method:  strings.ToUpper(strings.TrimSpace(api.Method)),
		URL:     dispatch.JoinURL(api.BaseURL, api.EndpointPath),
		Headers: dispatch.BuildHeaders(configs),
		Timeout: time.Duration(api.Timeout) * time.Millisecond,
	}
	result, errDispatch := c.dispatcher.Do(ctx, req)
	c.recorder.RecordExternalAPICall(ctx, api.ID, req, result, errDispatch)
	if errDispatch != nil {
		log.WithError(errDispatch).Warnf("health checker: probe failed for %s", api.Name)
	}
}
