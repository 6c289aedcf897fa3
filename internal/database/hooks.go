package database

import (
	"example.com/backstage/services/orderbot/internal/metrics"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const startTimeKey = "orderbot:start_time"

// RegisterMetricsHooks times every create, query, update and delete on db
func RegisterMetricsHooks(db *gorm.DB, collector *metrics.Metrics) {
	if collector == nil {
		return
	}

	register := func(name string, err error) {
		if err != nil {
			log.Warn().Err(err).Str("callback", name).Msg("Failed to register gorm callback")
		}
	}

	register("duration:create", db.Callback().Create().Before("gorm:create").Register("duration:create", markStart))
	register("duration:query", db.Callback().Query().Before("gorm:query").Register("duration:query", markStart))
	register("duration:update", db.Callback().Update().Before("gorm:update").Register("duration:update", markStart))
	register("duration:delete", db.Callback().Delete().Before("gorm:delete").Register("duration:delete", markStart))

	register("metrics:create", db.Callback().Create().After("gorm:create").Register("metrics:create", observe(collector, metrics.DBQueryTypeInsert)))
	register("metrics:query", db.Callback().Query().After("gorm:query").Register("metrics:query", observe(collector, metrics.DBQueryTypeSelect)))
	register("metrics:update", db.Callback().Update().After("gorm:update").Register("metrics:update", observe(collector, metrics.DBQueryTypeUpdate)))
	register("metrics:delete", db.Callback().Delete().After("gorm:delete").Register("metrics:delete", observe(collector, metrics.DBQueryTypeDelete)))
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func observe(collector *metrics.Metrics, queryType string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		var duration time.Duration
		if start, ok := db.InstanceGet(startTimeKey); ok {
			duration = time.Since(start.(time.Time))
		}
		collector.RecordDatabaseQuery(queryType, db.Error == nil, duration)
	}
}
