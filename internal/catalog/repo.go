package catalog

import (
	"context"
	"database/sql"

	"classattend/internal/model"
)

// Repository reads courses, sessions and rosters from Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.code, c.title, c.description, c.teacher_id, c.created_at, c.updated_at,
		       t.name, t.email,
		       (SELECT COUNT(*) FROM sessions s WHERE s.course_id = c.id),
		       (SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id)
		FROM courses c
		JOIN users t ON t.id = c.teacher_id
		ORDER BY c.code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.Course
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.TeacherID, &c.CreatedAt, &c.UpdatedAt,
			&c.Teacher.Name, &c.Teacher.Email, &c.Count.Sessions, &c.Count.Enrollments); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListSessions returns a course's sessions ordered by order index, each with
// its schedules in start order.
func (r *Repository) ListSessions(ctx context.Context, courseID string) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, title, description, order_index, created_at, updated_at
		FROM sessions
		WHERE course_id = $1
		ORDER BY order_index, id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	index := map[string]int{}
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.CourseID, &s.Title, &s.Description, &s.OrderIndex, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Schedules = []model.Schedule{}
		index[s.ID] = len(sessions)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	srows, err := r.db.QueryContext(ctx, `
		SELECT sc.id, sc.session_id, sc.start_time, sc.end_time, sc.room
		FROM session_schedules sc
		JOIN sessions s ON s.id = sc.session_id
		WHERE s.course_id = $1
		ORDER BY sc.start_time, sc.id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer srows.Close()

	for srows.Next() {
		var sc model.Schedule
		if err := srows.Scan(&sc.ID, &sc.SessionID, &sc.StartTime, &sc.EndTime, &sc.Room); err != nil {
			return nil, err
		}
		if i, ok := index[sc.SessionID]; ok {
			sessions[i].Schedules = append(sessions[i].Schedules, sc)
		}
	}
	return sessions, srows.Err()
}

// ListStudents returns everyone enrolled in a course, oldest enrollment first.
func (r *Repository) ListStudents(ctx context.Context, courseID string) ([]model.Person, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.role, u.created_at
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY e.created_at, u.id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.Person
	for rows.Next() {
		var p model.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
