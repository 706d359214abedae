package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/torcsys/torc/internal/torc/model"
)

func (i *impl) InsertHealthMetric(ctx context.Context, m *model.HealthMetric) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	query := `
		INSERT INTO torc_health_metrics (id, metric_type, metric_name, metric_value, recorded_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := i.q.ExecContext(ctx, query, m.ID, m.MetricType, m.MetricName, m.MetricValue.String(), m.RecordedAt, []byte(m.Metadata))
	if err != nil {
		return fmt.Errorf("insert health metric: %w", err)
	}
	return nil
}

// LatestHealthMetrics returns the most recent observation for each
// metric_type, ordered by metric_type.
func (i *impl) LatestHealthMetrics(ctx context.Context) ([]*model.HealthMetric, error) {
	query := `
		SELECT DISTINCT ON (metric_type) id, metric_type, metric_name, metric_value, recorded_at, metadata
		FROM torc_health_metrics
		ORDER BY metric_type, recorded_at DESC
	`
	rows, err := i.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("latest health metrics: %w", err)
	}
	defer rows.Close()

	var out []*model.HealthMetric
	for rows.Next() {
		m := &model.HealthMetric{}
		var value string
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.MetricType, &m.MetricName, &value, &m.RecordedAt, &metadata); err != nil {
			return nil, fmt.Errorf("scan health metric: %w", err)
		}
		m.MetricValue, _ = decimal.NewFromString(value)
		m.Metadata = metadata
		out = append(out, m)
	}
	return out, rows.Err()
}
