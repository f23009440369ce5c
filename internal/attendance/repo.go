package attendance

import (
	"context"
	"database/sql"
	"errors"

	"classattend/internal/model"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindStudentByName returns the first STUDENT with exactly this name, or nil.
func (r *Repository) FindStudentByName(ctx context.Context, name string) (*model.Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at
		FROM users
		WHERE name = $1 AND role = 'STUDENT'
		ORDER BY created_at, id
		LIMIT 1
	`, name)
	var p model.Person
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetScheduleDetail returns a schedule joined with its session, or nil.
func (r *Repository) GetScheduleDetail(ctx context.Context, scheduleID string) (*model.ScheduleDetail, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT sc.id, sc.session_id, sc.start_time, sc.end_time, sc.room, s.title, s.course_id
		FROM session_schedules sc
		JOIN sessions s ON s.id = sc.session_id
		WHERE sc.id = $1
	`, scheduleID)
	var d model.ScheduleDetail
	if err := row.Scan(&d.ID, &d.SessionID, &d.StartTime, &d.EndTime, &d.Room, &d.SessionTitle, &d.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// GetEnrollment returns the (student, course) enrollment, or nil.
func (r *Repository) GetEnrollment(ctx context.Context, studentID, courseID string) (*model.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, created_at
		FROM enrollments
		WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID)
	var e model.Enrollment
	if err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// UpsertAttendance inserts the row or, when (schedule_id, student_id) already
// exists, overwrites its status and recorded_at. a.ID is only used on insert.
func (r *Repository) UpsertAttendance(ctx context.Context, a model.Attendance) (model.Attendance, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, schedule_id, student_id, status, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schedule_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			recorded_at = EXCLUDED.recorded_at,
			updated_at = NOW()
		RETURNING id, schedule_id, student_id, status, recorded_at, created_at, updated_at
	`, a.ID, a.ScheduleID, a.StudentID, a.Status, a.RecordedAt)
	var out model.Attendance
	if err := row.Scan(&out.ID, &out.ScheduleID, &out.StudentID, &out.Status, &out.RecordedAt, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return model.Attendance{}, err
	}
	return out, nil
}

// ListEnrollments returns every enrollment of a course with the enrolled
// person, oldest enrollment first.
func (r *Repository) ListEnrollments(ctx context.Context, courseID string) ([]model.EnrolledPerson, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.student_id, e.course_id, e.created_at, u.id, u.name, u.email, u.role, u.created_at
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY e.created_at, u.id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.EnrolledPerson
	for rows.Next() {
		var ep model.EnrolledPerson
		e, p := &ep.Enrollment, &ep.Person
		if err := rows.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.CreatedAt, &p.ID, &p.Name, &p.Email, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ep)
	}
	return res, rows.Err()
}

// ListAttendanceBySchedule returns all attendance rows of a schedule.
func (r *Repository) ListAttendanceBySchedule(ctx context.Context, scheduleID string) ([]model.Attendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, schedule_id, student_id, status, recorded_at, created_at, updated_at
		FROM attendance
		WHERE schedule_id = $1
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.Attendance
	for rows.Next() {
		var a model.Attendance
		if err := rows.Scan(&a.ID, &a.ScheduleID, &a.StudentID, &a.Status, &a.RecordedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountAttendance returns how many rows exist for (scheduleID, studentID).
func (r *Repository) CountAttendance(ctx context.Context, scheduleID, studentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance WHERE schedule_id = $1 AND student_id = $2
	`, scheduleID, studentID).Scan(&n)
	return n, err
}
