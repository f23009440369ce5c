package model

import "time"

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleAdmin   Role = "ADMIN"
)

type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
	StatusExcused Status = "EXCUSED"
)

// Person is a directory entry. Students, teachers and admins share the table.
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"-"`
}

type TeacherSummary struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type CourseCounts struct {
	Sessions    int `json:"sessions"`
	Enrollments int `json:"enrollments"`
}

// Course is a course with its teacher and aggregate counts, as listed by the catalog.
type Course struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	TeacherID   string         `json:"teacherId"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Teacher     TeacherSummary `json:"teacher"`
	Count       CourseCounts   `json:"_count"`
}

type Session struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"courseId"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	OrderIndex  int        `json:"orderIndex"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Schedules   []Schedule `json:"schedules"`
}

// Schedule is one concrete time-boxed occurrence of a session.
type Schedule struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Room      *string    `json:"room"`
}

// ScheduleDetail is a schedule with the parent session fields the attendance
// flow needs.
type ScheduleDetail struct {
	Schedule
	SessionTitle string
	CourseID     string
}

type Enrollment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId"`
	CourseID  string    `json:"courseId"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnrolledPerson is an enrollment joined with the enrolled person.
type EnrolledPerson struct {
	Enrollment Enrollment
	Person     Person
}

// Attendance is the single row kept per (schedule, student).
type Attendance struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"scheduleId"`
	StudentID  string    `json:"studentId"`
	Status     Status    `json:"status"`
	RecordedAt time.Time `json:"recordedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type RosterEntry struct {
	StudentID  string     `json:"studentId"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Status     Status     `json:"status"`
	RecordedAt *time.Time `json:"recordedAt"`
}

// Recap is the full roster of one schedule. Students without a scan are ABSENT
// with a nil RecordedAt.
type Recap struct {
	ScheduleID   string        `json:"scheduleId"`
	SessionID    string        `json:"sessionId"`
	SessionTitle string        `json:"sessionTitle"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      *time.Time    `json:"endTime"`
	Students     []RosterEntry `json:"students"`
}

// ScanEvent is one audit entry for a mark attempt.
type ScanEvent struct {
	ID             string    `json:"id"`
	ScheduleID     string    `json:"scheduleId"`
	Prediction     string    `json:"prediction,omitempty"`
	StudentID      *string   `json:"studentId,omitempty"`
	Outcome        string    `json:"outcome"`
	Status         *Status   `json:"status,omitempty"`
	ElapsedMinutes *int      `json:"elapsedMinutes,omitempty"`
	ImageURL       *string   `json:"imageUrl,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}
