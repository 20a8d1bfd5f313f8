package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/models"

	"gorm.io/gorm"
)

// defaultPeriod is applied when the caller omits or mistypes the period token.
const defaultPeriod = "30d"

// hoursPerDay is the number of hourly buckets in the today breakdown.
const hoursPerDay = 24

// Target selects which call log rows an aggregation covers.
type Target struct {
	ProviderID    *uint64
	ExternalAPIID *uint64
}

// ForProvider targets call logs recorded for a provider.
func ForProvider(id uint64) Target {
	return Target{ProviderID: &id}
}

// ForExternalAPI targets call logs recorded for an external API.
func ForExternalAPI(id uint64) Target {
	return Target{ExternalAPIID: &id}
}

// DailyCount is the call count for one calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// HourlyCount is the call count for one hour of today.
type HourlyCount struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

// Stats holds aggregated call counts for a single target.
type Stats struct {
	Total     int64         `json:"total"`
	Today     int64         `json:"today"`
	ThisMonth int64         `json:"thisMonth"`
	Period    string        `json:"period"`
	Daily     []DailyCount  `json:"daily"`
	Hourly    []HourlyCount `json:"hourly"`
}

// PeriodDays normalizes a period token and returns its day span.
func PeriodDays(period string) (string, int) {
	switch strings.TrimSpace(period) {
	case "7d":
		return "7d", 7
	case "90d":
		return "90d", 90
	default:
		return defaultPeriod, 30
	}
}

// Aggregate computes call counts for the target over the given period. All
// windows and bucket keys share UTC: today and this month start at UTC
// midnight, daily buckets are keyed by UTC day and hourly buckets by UTC
// hour. An empty log set yields zero counts.
func Aggregate(ctx context.Context, conn *gorm.DB, target Target, period string) (Stats, error) {
	return aggregateAt(ctx, conn, target, period, time.Now())
}

func aggregateAt(ctx context.Context, conn *gorm.DB, target Target, period string, now time.Time) (Stats, error) {
	normalized, days := PeriodDays(period)
	stats := Stats{
		Period: normalized,
		Daily:  make([]DailyCount, 0, days),
		Hourly: make([]HourlyCount, 0, hoursPerDay),
	}
	if conn == nil {
		return stats, errors.New("usage: nil database connection")
	}

	utcNow := now.UTC()
	todayStart := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(utcNow.Year(), utcNow.Month(), 1, 0, 0, 0, 0, time.UTC)

	if errTotal := scoped(conn.WithContext(ctx), target).Count(&stats.Total).Error; errTotal != nil {
		return stats, fmt.Errorf("usage: count total calls: %w", errTotal)
	}
	if errToday := scoped(conn.WithContext(ctx), target).
		Where("created_at >= ?", todayStart).
		Count(&stats.Today).Error; errToday != nil {
		return stats, fmt.Errorf("usage: count today calls: %w", errToday)
	}
	if errMonth := scoped(conn.WithContext(ctx), target).
		Where("created_at >= ?", monthStart).
		Count(&stats.ThisMonth).Error; errMonth != nil {
		return stats, fmt.Errorf("usage: count month calls: %w", errMonth)
	}

	dailyStart := todayStart.AddDate(0, 0, -(days - 1))
	dailyCounts, errDaily := bucketCounts(ctx, conn, target, db.DateBucketExpr(conn, "created_at"), dailyStart)
	if errDaily != nil {
		return stats, fmt.Errorf("usage: load daily buckets: %w", errDaily)
	}
	for i := 0; i < days; i++ {
		date := dailyStart.AddDate(0, 0, i).Format("2006-01-02")
		stats.Daily = append(stats.Daily, DailyCount{Date: date, Count: dailyCounts[date]})
	}

	hourlyCounts, errHourly := bucketCounts(ctx, conn, target, db.HourBucketExpr(conn, "created_at"), todayStart)
	if errHourly != nil {
		return stats, fmt.Errorf("usage: load hourly buckets: %w", errHourly)
	}
	for hour := 0; hour < hoursPerDay; hour++ {
		label := fmt.Sprintf("%02d", hour)
		stats.Hourly = append(stats.Hourly, HourlyCount{Hour: label, Count: hourlyCounts[label]})
	}

	return stats, nil
}

// scoped narrows a call log query to the target rows.
func scoped(conn *gorm.DB, target Target) *gorm.DB {
	q := conn.Model(&models.CallLog{})
	if target.ProviderID != nil {
		q = q.Where("provider_id = ?", *target.ProviderID)
	}
	if target.ExternalAPIID != nil {
		q = q.Where("external_api_id = ?", *target.ExternalAPIID)
	}
	return q
}

// bucketCounts groups call counts by the bucket expression since a start time.
func bucketCounts(ctx context.Context, conn *gorm.DB, target Target, bucketExpr string, since time.Time) (map[string]int64, error) {
	// rows holds the GROUP BY results keyed by bucket label.
	var rows []struct {
		Bucket string
		Count  int64
	}
	if errScan := scoped(conn.WithContext(ctx), target).
		Select(fmt.Sprintf("%s AS bucket, COUNT(*) AS count", bucketExpr)).
		Where("created_at >= ?", since).
		Group(bucketExpr).
		Scan(&rows).Error; errScan != nil {
		return nil, errScan
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Bucket] = row.Count
	}
	return counts, nil
}
