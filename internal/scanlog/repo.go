package scanlog

import (
	"context"
	"database/sql"

	"classattend/internal/model"
)

// Repository appends scan audit rows.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertScanEvent writes evt. Replayed events with a known id are ignored.
func (r *Repository) InsertScanEvent(ctx context.Context, evt model.ScanEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_events (id, schedule_id, prediction, student_id, outcome, status, elapsed_minutes, image_url, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.ScheduleID, evt.Prediction, evt.StudentID, evt.Outcome, evt.Status, evt.ElapsedMinutes, evt.ImageURL, evt.OccurredAt)
	return err
}

// ListBySchedule returns the newest events of a schedule first.
func (r *Repository) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]model.ScanEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, schedule_id, prediction, student_id, outcome, status, elapsed_minutes, image_url, occurred_at
		FROM scan_events
		WHERE schedule_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.ScanEvent
	for rows.Next() {
		var e model.ScanEvent
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.Prediction, &e.StudentID, &e.Outcome, &e.Status, &e.ElapsedMinutes, &e.ImageURL, &e.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
