package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/apperr"
	"classattend/internal/faceclient"
	"classattend/internal/metrics"
	"classattend/internal/model"
	"classattend/internal/queue"
)

// Store is the persistence the attendance flow needs. Lookups return a nil
// value and nil error on a miss.
type Store interface {
	FindStudentByName(ctx context.Context, name string) (*model.Person, error)
	GetScheduleDetail(ctx context.Context, scheduleID string) (*model.ScheduleDetail, error)
	GetEnrollment(ctx context.Context, studentID, courseID string) (*model.Enrollment, error)
	UpsertAttendance(ctx context.Context, a model.Attendance) (model.Attendance, error)
	ListEnrollments(ctx context.Context, courseID string) ([]model.EnrolledPerson, error)
	ListAttendanceBySchedule(ctx context.Context, scheduleID string) ([]model.Attendance, error)
}

// Recognizer turns a face image into a name.
type Recognizer interface {
	Predict(ctx context.Context, image io.Reader, filename string) (*faceclient.Prediction, error)
}

// Archiver keeps a copy of a scan image and returns where it lives.
type Archiver interface {
	Archive(ctx context.Context, image io.Reader, filename string) (string, error)
}

// Publisher receives scan audit events.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// RecapCache holds built recaps between marks. Get returns the schedule's
// current generation alongside a hit or miss; Set stores a recap only while
// that generation is still current, and Invalidate advances it.
type RecapCache interface {
	Get(ctx context.Context, scheduleID string) (recap *model.Recap, gen int64, err error)
	Set(ctx context.Context, recap *model.Recap, gen int64) error
	Invalidate(ctx context.Context, scheduleID string) error
}

// MarkResult is returned for a recorded scan.
type MarkResult struct {
	Student        string           `json:"student"`
	Status         model.Status     `json:"status"`
	TimeDifference string           `json:"timeDifference"`
	Data           model.Attendance `json:"data"`
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

func WithArchiver(a Archiver) Option { return func(s *Service) { s.archiver = a } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

func WithRecapCache(c RecapCache) Option { return func(s *Service) { s.cache = c } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPublishTimeout bounds how long a scan event may wait on the publisher.
func WithPublishTimeout(d time.Duration) Option { return func(s *Service) { s.publishTimeout = d } }

// Service runs the scan-to-attendance pipeline and builds recaps.
type Service struct {
	store    Store
	face     Recognizer
	archiver Archiver
	events   Publisher
	cache    RecapCache
	log      *zap.Logger
	now      func() time.Time

	publishTimeout time.Duration
}

// NewService creates a service backed by a store and a recognizer.
func NewService(store Store, face Recognizer, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store: store,
		face:  face,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },

		publishTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveStudent finds the student whose name exactly matches name.
func (s *Service) ResolveStudent(ctx context.Context, name string) (*model.Person, error) {
	p, err := s.store.FindStudentByName(ctx, name)
	if err != nil {
		return nil, apperr.Wrap(err, "resolve student")
	}
	if p == nil {
		return nil, apperr.NotFoundf("Student '%s' not found in database", name)
	}
	return p, nil
}

// LookupSchedule returns the schedule with its session and course ids.
func (s *Service) LookupSchedule(ctx context.Context, scheduleID string) (*model.ScheduleDetail, error) {
	return s.lookupSchedule(ctx, scheduleID, "Schedule not found")
}

func (s *Service) lookupSchedule(ctx context.Context, scheduleID, missing string) (*model.ScheduleDetail, error) {
	d, err := s.store.GetScheduleDetail(ctx, scheduleID)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup schedule")
	}
	if d == nil {
		return nil, apperr.NotFoundf("%s", missing)
	}
	return d, nil
}

// ValidateEnrollment confirms student is enrolled in courseID.
func (s *Service) ValidateEnrollment(ctx context.Context, student *model.Person, courseID string) (*model.Enrollment, error) {
	e, err := s.store.GetEnrollment(ctx, student.ID, courseID)
	if err != nil {
		return nil, apperr.Wrap(err, "validate enrollment")
	}
	if e == nil {
		return nil, apperr.NotFoundf("Student is not enrolled in this course")
	}
	return e, nil
}

// Record upserts the attendance row for (scheduleID, studentID).
func (s *Service) Record(ctx context.Context, scheduleID, studentID string, status model.Status, at time.Time) (model.Attendance, error) {
	rec, err := s.store.UpsertAttendance(ctx, model.Attendance{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		StudentID:  studentID,
		Status:     status,
		RecordedAt: at,
	})
	if err != nil {
		return model.Attendance{}, apperr.Wrap(err, "record attendance")
	}
	return rec, nil
}

// Mark identifies the face in img and records attendance for scheduleID.
// img is released before Mark returns, on every path.
func (s *Service) Mark(ctx context.Context, img Image, scheduleID string) (res *MarkResult, err error) {
	if img != nil {
		defer func() {
			if rerr := img.Release(); rerr != nil {
				s.log.Warn("release scan image", zap.Error(rerr))
			}
		}()
	}
	defer func() { metrics.ObserveScan(outcome(err)) }()

	scheduleID = strings.TrimSpace(scheduleID)
	if img == nil || scheduleID == "" {
		return nil, apperr.BadRequestf("Image and scheduleId are required")
	}

	evt := model.ScanEvent{ID: uuid.NewString(), ScheduleID: scheduleID, OccurredAt: s.now()}
	defer func() { s.publish(ctx, &evt, err) }()

	pred, err := s.recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	evt.Prediction = pred.Name

	student, err := s.ResolveStudent(ctx, pred.Name)
	if err != nil {
		return nil, err
	}
	evt.StudentID = &student.ID

	sched, err := s.LookupSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if _, err = s.ValidateEnrollment(ctx, student, sched.CourseID); err != nil {
		return nil, err
	}

	now := s.now()
	status, elapsed := Classify(sched.StartTime, now)
	evt.Status, evt.ElapsedMinutes = &status, &elapsed

	rec, err := s.Record(ctx, sched.ID, student.ID, status, now)
	if err != nil {
		return nil, err
	}

	if url := s.archive(ctx, img, sched.ID); url != "" {
		evt.ImageURL = &url
	}
	s.invalidate(ctx, sched.ID)

	s.log.Info("attendance recorded",
		zap.String("schedule_id", sched.ID),
		zap.String("student_id", student.ID),
		zap.String("status", string(status)),
		zap.Int("elapsed_minutes", elapsed))

	return &MarkResult{
		Student:        student.Name,
		Status:         status,
		TimeDifference: fmt.Sprintf("%d minutes", elapsed),
		Data:           rec,
	}, nil
}

func (s *Service) recognize(ctx context.Context, img Image) (*faceclient.Prediction, error) {
	rc, err := img.Open()
	if err != nil {
		return nil, apperr.Wrap(err, "open scan image")
	}
	defer rc.Close()

	pred, err := s.face.Predict(ctx, rc, img.Filename())
	switch {
	case errors.Is(err, faceclient.ErrNoFace):
		return nil, apperr.Unrecognized("Face not recognized")
	case err != nil:
		return nil, apperr.Wrap(err, "face recognition")
	}
	if !pred.Recognized() {
		return nil, apperr.Unrecognized("Face not recognized")
	}
	return pred, nil
}

func (s *Service) archive(ctx context.Context, img Image, scheduleID string) string {
	if s.archiver == nil {
		return ""
	}
	rc, err := img.Open()
	if err != nil {
		s.log.Warn("archive scan: open image", zap.Error(err))
		return ""
	}
	defer rc.Close()
	url, err := s.archiver.Archive(ctx, rc, img.Filename())
	if err != nil {
		s.log.Warn("archive scan", zap.String("schedule_id", scheduleID), zap.Error(err))
		return ""
	}
	return url
}

func (s *Service) invalidate(ctx context.Context, scheduleID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, scheduleID); err != nil {
		s.log.Warn("invalidate recap cache", zap.String("schedule_id", scheduleID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, evt *model.ScanEvent, err error) {
	if s.events == nil {
		return
	}
	evt.Outcome = outcome(err)
	body, merr := json.Marshal(evt)
	if merr != nil {
		s.log.Warn("encode scan event", zap.Error(merr))
		return
	}
	// Detached from the request so a disconnect still records the event,
	// but bounded so a stalled consumer cannot hold the response.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if perr := s.events.Publish(pctx, queue.Message{Type: queue.TypeScan, Body: body}); perr != nil {
		s.log.Warn("publish scan event", zap.String("event_id", evt.ID), zap.Error(perr))
	}
}

func outcome(err error) string {
	if err == nil {
		return "recorded"
	}
	return apperr.KindOf(err).String()
}

// Recap returns every enrolled student of the schedule's course with their
// attendance for that schedule. Students appear in enrollment order; those
// who never scanned are ABSENT with no timestamp.
func (s *Service) Recap(ctx context.Context, scheduleID string) (*model.Recap, error) {
	scheduleID = strings.TrimSpace(scheduleID)
	if scheduleID == "" {
		return nil, apperr.BadRequestf("scheduleId is required")
	}

	// gen is read before the store so a mark landing between the reads
	// and the write below leaves the stale recap uncached.
	useCache := s.cache != nil
	var gen int64
	if useCache {
		cached, g, err := s.cache.Get(ctx, scheduleID)
		switch {
		case err != nil:
			s.log.Warn("read recap cache", zap.String("schedule_id", scheduleID), zap.Error(err))
			useCache = false
		case cached != nil:
			return cached, nil
		}
		gen = g
	}

	sched, err := s.lookupSchedule(ctx, scheduleID, "Session schedule not found")
	if err != nil {
		return nil, err
	}

	enrolled, err := s.store.ListEnrollments(ctx, sched.CourseID)
	if err != nil {
		return nil, apperr.Wrap(err, "list enrollments")
	}
	rows, err := s.store.ListAttendanceBySchedule(ctx, sched.ID)
	if err != nil {
		return nil, apperr.Wrap(err, "list attendance")
	}

	recap := BuildRecap(sched, enrolled, rows)

	if useCache {
		if err := s.cache.Set(ctx, recap, gen); err != nil {
			s.log.Warn("write recap cache", zap.String("schedule_id", scheduleID), zap.Error(err))
		}
	}
	return recap, nil
}

// BuildRecap joins the roster against the schedule's attendance rows.
func BuildRecap(sched *model.ScheduleDetail, enrolled []model.EnrolledPerson, rows []model.Attendance) *model.Recap {
	byStudent := make(map[string]model.Attendance, len(rows))
	for _, a := range rows {
		byStudent[a.StudentID] = a
	}

	students := make([]model.RosterEntry, 0, len(enrolled))
	seen := make(map[string]bool, len(enrolled))
	for _, e := range enrolled {
		p := e.Person
		if p.Role != model.RoleStudent || seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		entry := model.RosterEntry{
			StudentID: p.ID,
			Name:      p.Name,
			Email:     p.Email,
			Status:    model.StatusAbsent,
		}
		if a, ok := byStudent[p.ID]; ok {
			recordedAt := a.RecordedAt
			entry.Status = a.Status
			entry.RecordedAt = &recordedAt
		}
		students = append(students, entry)
	}

	return &model.Recap{
		ScheduleID:   sched.ID,
		SessionID:    sched.SessionID,
		SessionTitle: sched.SessionTitle,
		StartTime:    sched.StartTime,
		EndTime:      sched.EndTime,
		Students:     students,
	}
}
