/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

// DefaultSlowQuery is the latency above which a statement is logged.
const DefaultSlowQuery = 200 * time.Millisecond

const startedKey = "sanctuary:statement_started"

// otherTable labels statements outside the library and the schedule, such as
// raw migration SQL, so the metric label set stays bounded.
const otherTable = "other"

var knownTables = map[string]bool{
	models.ContentItem{}.TableName():   true,
	models.ScheduledItem{}.TableName(): true,
}

// statementObserver times gorm statements into the database metrics and
// warns about slow or failed ones.
type statementObserver struct {
	slow   time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// RegisterCallbacks instruments every gorm statement kind. A zero slow
// threshold uses DefaultSlowQuery.
func RegisterCallbacks(db *gorm.DB, slow time.Duration, logger zerolog.Logger) error {
	if slow <= 0 {
		slow = DefaultSlowQuery
	}
	o := &statementObserver{
		slow:   slow,
		logger: logger.With().Str("component", "db").Logger(),
		now:    time.Now,
	}
	return o.register(db)
}

func (o *statementObserver) register(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Query().Before("gorm:query").Register("sanctuary:before_query", o.start),
		cb.Query().After("gorm:query").Register("sanctuary:after_query", o.finish("query")),
		cb.Create().Before("gorm:create").Register("sanctuary:before_create", o.start),
		cb.Create().After("gorm:create").Register("sanctuary:after_create", o.finish("create")),
		cb.Update().Before("gorm:update").Register("sanctuary:before_update", o.start),
		cb.Update().After("gorm:update").Register("sanctuary:after_update", o.finish("update")),
		cb.Delete().Before("gorm:delete").Register("sanctuary:before_delete", o.start),
		cb.Delete().After("gorm:delete").Register("sanctuary:after_delete", o.finish("delete")),
		cb.Row().Before("gorm:row").Register("sanctuary:before_row", o.start),
		cb.Row().After("gorm:row").Register("sanctuary:after_row", o.finish("row")),
		cb.Raw().Before("gorm:raw").Register("sanctuary:before_raw", o.start),
		cb.Raw().After("gorm:raw").Register("sanctuary:after_raw", o.finish("raw")),
	)
}

func (o *statementObserver) start(tx *gorm.DB) {
	tx.InstanceSet(startedKey, o.now())
}

func (o *statementObserver) finish(op string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(startedKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := o.now().Sub(started)
		table := tableLabel(tx.Statement.Table)

		telemetry.DatabaseQueryDuration.WithLabelValues(op, table).Observe(elapsed.Seconds())

		if failed(tx.Error) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, table).Inc()
			o.logger.Warn().Err(tx.Error).
				Str("operation", op).
				Str("table", table).
				Msg("database statement failed")
			return
		}
		if elapsed >= o.slow {
			o.logger.Warn().
				Str("operation", op).
				Str("table", table).
				Dur("elapsed", elapsed).
				Int64("rows", tx.Statement.RowsAffected).
				Msg("slow database statement")
		}
	}
}

func tableLabel(table string) string {
	if knownTables[table] {
		return table
	}
	return otherTable
}

// failed reports errors worth counting. A lookup that finds nothing is an
// answer, not a failure.
func failed(err error) bool {
	return err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
}

// UpdateConnectionMetrics samples the connection pool. The server calls it
// every 30 seconds.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
