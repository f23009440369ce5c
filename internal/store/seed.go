package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Demo lists the ids SeedDemo writes.
type Demo struct {
	TeacherID   string
	CourseID    string
	SessionID   string
	ScheduleID  string
	StudentIDs  []string // enrolled, in enrollment order
	OutsiderID  string   // a student who is not enrolled
	StudentName map[string]string
}

// SeedDemo inserts one course with a single scheduled session, three enrolled
// students and one student outside the course. Running it again is a no-op
// apart from moving the schedule to start.
func SeedDemo(ctx context.Context, db *sql.DB, start time.Time) (Demo, error) {
	d := Demo{
		TeacherID:  "usr-teacher-1",
		CourseID:   "crs-cs101",
		SessionID:  "ses-cs101-1",
		ScheduleID: "sch-cs101-1",
		StudentIDs: []string{"usr-student-1", "usr-student-2", "usr-student-3"},
		OutsiderID: "usr-student-4",
		StudentName: map[string]string{
			"usr-student-1": "Ada Lovelace",
			"usr-student-2": "Alan Turing",
			"usr-student-3": "Katherine Johnson",
			"usr-student-4": "Edsger Dijkstra",
		},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Demo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	exec := func(query string, args ...any) {
		if err != nil {
			return
		}
		if _, e := tx.ExecContext(ctx, query, args...); e != nil {
			err = fmt.Errorf("seed: %w", e)
		}
	}

	exec(`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, 'TEACHER') ON CONFLICT (id) DO NOTHING`,
		d.TeacherID, "Grace Hopper", "grace.hopper@example.edu")

	students := append(append([]string{}, d.StudentIDs...), d.OutsiderID)
	for i, id := range students {
		exec(`INSERT INTO users (id, name, email, role, created_at) VALUES ($1, $2, $3, 'STUDENT', $4) ON CONFLICT (id) DO NOTHING`,
			id, d.StudentName[id], fmt.Sprintf("student%d@example.edu", i+1), start.Add(-time.Duration(len(students)-i)*time.Hour))
	}

	exec(`INSERT INTO courses (id, code, title, description, teacher_id) VALUES ($1, 'CS101', 'Introduction to Computing', 'Foundations of programming', $2) ON CONFLICT (id) DO NOTHING`,
		d.CourseID, d.TeacherID)
	exec(`INSERT INTO sessions (id, course_id, title, order_index) VALUES ($1, $2, 'Week 1: Algorithms', 1) ON CONFLICT (id) DO NOTHING`,
		d.SessionID, d.CourseID)
	exec(`
		INSERT INTO session_schedules (id, session_id, start_time, end_time, room) VALUES ($1, $2, $3, $4, 'Lab 2')
		ON CONFLICT (id) DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time
	`, d.ScheduleID, d.SessionID, start, start.Add(100*time.Minute))

	for i, id := range d.StudentIDs {
		exec(`INSERT INTO enrollments (id, student_id, course_id, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (student_id, course_id) DO NOTHING`,
			fmt.Sprintf("enr-cs101-%d", i+1), id, d.CourseID, start.Add(-24*time.Hour+time.Duration(i)*time.Minute))
	}

	if err != nil {
		return Demo{}, err
	}
	return d, tx.Commit()
}
