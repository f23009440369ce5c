package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"classattend/internal/apperr"
	"classattend/internal/faceclient"
	"classattend/internal/model"
	"classattend/internal/queue"
)

type fakeStore struct {
	mu          sync.Mutex
	people      []model.Person
	schedules   map[string]model.ScheduleDetail
	enrollments []model.Enrollment
	rows        map[[2]string]model.Attendance
	calls       int
	upsertErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		schedules: map[string]model.ScheduleDetail{},
		rows:      map[[2]string]model.Attendance{},
	}
}

func (f *fakeStore) FindStudentByName(_ context.Context, name string) (*model.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, p := range f.people {
		if p.Name == name && p.Role == model.RoleStudent {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetScheduleDetail(_ context.Context, id string) (*model.ScheduleDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	d, ok := f.schedules[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeStore) GetEnrollment(_ context.Context, studentID, courseID string) (*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, e := range f.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertAttendance(_ context.Context, a model.Attendance) (model.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.upsertErr != nil {
		return model.Attendance{}, f.upsertErr
	}
	key := [2]string{a.ScheduleID, a.StudentID}
	if cur, ok := f.rows[key]; ok {
		cur.Status, cur.RecordedAt, cur.UpdatedAt = a.Status, a.RecordedAt, a.RecordedAt
		f.rows[key] = cur
		return cur, nil
	}
	a.CreatedAt, a.UpdatedAt = a.RecordedAt, a.RecordedAt
	f.rows[key] = a
	return a, nil
}

func (f *fakeStore) ListEnrollments(_ context.Context, courseID string) ([]model.EnrolledPerson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []model.EnrolledPerson
	for _, e := range f.enrollments {
		if e.CourseID != courseID {
			continue
		}
		for _, p := range f.people {
			if p.ID == e.StudentID {
				out = append(out, model.EnrolledPerson{Enrollment: e, Person: p})
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListAttendanceBySchedule(_ context.Context, scheduleID string) ([]model.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []model.Attendance
	for k, a := range f.rows {
		if k[0] == scheduleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) rowsFor(scheduleID, studentID string) []model.Attendance {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attendance
	for k, a := range f.rows {
		if k == [2]string{scheduleID, studentID} {
			out = append(out, a)
		}
	}
	return out
}

type fakeRecognizer struct {
	name  string
	err   error
	calls int
}

func (r *fakeRecognizer) Predict(_ context.Context, image io.Reader, _ string) (*faceclient.Prediction, error) {
	r.calls++
	if _, err := io.ReadAll(image); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	return &faceclient.Prediction{Name: r.name, Confidence: 0.9}, nil
}

type fakeImage struct {
	released int
}

func (i *fakeImage) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("jpeg")), nil
}
func (i *fakeImage) Filename() string { return "scan.jpg" }
func (i *fakeImage) Release() error   { i.released++; return nil }

type fakePublisher struct {
	msgs []queue.Message
}

func (p *fakePublisher) Publish(_ context.Context, msg queue.Message) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) events(t *testing.T) []model.ScanEvent {
	t.Helper()
	var out []model.ScanEvent
	for _, m := range p.msgs {
		var e model.ScanEvent
		if err := json.Unmarshal(m.Body, &e); err != nil {
			t.Fatalf("decode scan event: %v", err)
		}
		out = append(out, e)
	}
	return out
}

type fakeCache struct {
	recaps      map[string]*model.Recap
	gens        map[string]int64
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{recaps: map[string]*model.Recap{}, gens: map[string]int64{}}
}

func (c *fakeCache) Get(_ context.Context, id string) (*model.Recap, int64, error) {
	return c.recaps[id], c.gens[id], nil
}

func (c *fakeCache) Set(_ context.Context, r *model.Recap, gen int64) error {
	if gen == c.gens[r.ScheduleID] {
		c.recaps[r.ScheduleID] = r
	}
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, id string) error {
	c.invalidated = append(c.invalidated, id)
	c.gens[id]++
	delete(c.recaps, id)
	return nil
}

type fakeArchiver struct{ url string }

func (a *fakeArchiver) Archive(_ context.Context, r io.Reader, _ string) (string, error) {
	_, err := io.ReadAll(r)
	return a.url, err
}

var scheduleStart = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// seed builds a course c1 with schedule sch1 and students alice (enrolled)
// and bob (not enrolled).
func seed() *fakeStore {
	fs := newFakeStore()
	fs.people = []model.Person{
		{ID: "u-alice", Name: "Alice", Email: "alice@uni.test", Role: model.RoleStudent},
		{ID: "u-bob", Name: "Bob", Email: "bob@uni.test", Role: model.RoleStudent},
		{ID: "u-teach", Name: "Dr Who", Email: "who@uni.test", Role: model.RoleTeacher},
	}
	fs.schedules["sch1"] = model.ScheduleDetail{
		Schedule:     model.Schedule{ID: "sch1", SessionID: "s1", StartTime: scheduleStart},
		SessionTitle: "Intro",
		CourseID:     "c1",
	}
	fs.enrollments = []model.Enrollment{{ID: "e1", StudentID: "u-alice", CourseID: "c1"}}
	return fs
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMarkPresentThenLateKeepsOneRow(t *testing.T) {
	fs := seed()
	clk := &clock{t: scheduleStart.Add(10 * time.Minute)}
	svc := NewService(fs, &fakeRecognizer{name: "Alice"}, nil, WithClock(clk.now))

	img := &fakeImage{}
	res, err := svc.Mark(context.Background(), img, "sch1")
	if err != nil {
		t.Fatalf("first Mark: %v", err)
	}
	if res.Status != model.StatusPresent || res.TimeDifference != "10 minutes" || res.Student != "Alice" {
		t.Errorf("first result = %+v", res)
	}
	if img.released != 1 {
		t.Errorf("image released %d times", img.released)
	}

	clk.t = scheduleStart.Add(60 * time.Minute)
	res2, err := svc.Mark(context.Background(), &fakeImage{}, "sch1")
	if err != nil {
		t.Fatalf("second Mark: %v", err)
	}
	if res2.Status != model.StatusLate || res2.TimeDifference != "60 minutes" {
		t.Errorf("second result = %+v", res2)
	}

	rows := fs.rowsFor("sch1", "u-alice")
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Status != model.StatusLate || !rows[0].RecordedAt.Equal(clk.t) {
		t.Errorf("row = %+v", rows[0])
	}
	if res2.Data.ID != res.Data.ID {
		t.Errorf("upsert changed row id: %s -> %s", res.Data.ID, res2.Data.ID)
	}
}

func TestMarkNotEnrolledWritesNothing(t *testing.T) {
	fs := seed()
	svc := NewService(fs, &fakeRecognizer{name: "Bob"}, nil, WithClock((&clock{t: scheduleStart}).now))

	img := &fakeImage{}
	_, err := svc.Mark(context.Background(), img, "sch1")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
	if !strings.Contains(apperr.Message(err, ""), "not enrolled") {
		t.Errorf("message = %q", apperr.Message(err, ""))
	}
	if n := len(fs.rowsFor("sch1", "u-bob")); n != 0 {
		t.Errorf("attendance rows = %d, want 0", n)
	}
	if img.released != 1 {
		t.Errorf("image released %d times", img.released)
	}
}

func TestMarkMissingInputIsBadRequestBeforeLookups(t *testing.T) {
	cases := []struct {
		name       string
		img        *fakeImage
		scheduleID string
	}{
		{"no image", nil, "sch1"},
		{"no schedule", &fakeImage{}, ""},
		{"blank schedule", &fakeImage{}, "   "},
		{"neither", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := seed()
			rec := &fakeRecognizer{name: "Alice"}
			svc := NewService(fs, rec, nil)

			var img Image
			if tc.img != nil {
				img = tc.img
			}
			_, err := svc.Mark(context.Background(), img, tc.scheduleID)
			if apperr.KindOf(err) != apperr.BadRequest {
				t.Fatalf("err = %v, want BadRequest", err)
			}
			if fs.calls != 0 || rec.calls != 0 {
				t.Errorf("lookups attempted: store=%d recognizer=%d", fs.calls, rec.calls)
			}
			if tc.img != nil && tc.img.released != 1 {
				t.Errorf("image released %d times", tc.img.released)
			}
		})
	}
}

func TestMarkRecognitionOutcomes(t *testing.T) {
	cases := []struct {
		name string
		rec  *fakeRecognizer
		want apperr.Kind
	}{
		{"empty prediction", &fakeRecognizer{name: ""}, apperr.RecognitionFailed},
		{"unknown sentinel", &fakeRecognizer{name: "unknown"}, apperr.RecognitionFailed},
		{"no face", &fakeRecognizer{err: faceclient.ErrNoFace}, apperr.RecognitionFailed},
		{"service rejected image", &fakeRecognizer{err: errors.New("face service error 400 Bad Request")}, apperr.Internal},
		{"service down", &fakeRecognizer{err: errors.New("dial tcp: connection refused")}, apperr.Internal},
		{"unknown student", &fakeRecognizer{name: "Mallory"}, apperr.NotFound},
		{"teacher is not a student", &fakeRecognizer{name: "Dr Who"}, apperr.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := seed()
			img := &fakeImage{}
			_, err := NewService(fs, tc.rec, nil).Mark(context.Background(), img, "sch1")
			if got := apperr.KindOf(err); got != tc.want {
				t.Fatalf("kind = %s, want %s (err %v)", got, tc.want, err)
			}
			if img.released != 1 {
				t.Errorf("image released %d times", img.released)
			}
			if len(fs.rows) != 0 {
				t.Errorf("rows written: %d", len(fs.rows))
			}
		})
	}
}

func TestMarkUnknownSchedule(t *testing.T) {
	_, err := NewService(seed(), &fakeRecognizer{name: "Alice"}, nil).Mark(context.Background(), &fakeImage{}, "nope")
	if apperr.KindOf(err) != apperr.NotFound || apperr.Message(err, "") != "Schedule not found" {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkStorageFailureIsInternal(t *testing.T) {
	fs := seed()
	fs.upsertErr = errors.New("pq: deadlock detected")
	img := &fakeImage{}
	_, err := NewService(fs, &fakeRecognizer{name: "Alice"}, nil).Mark(context.Background(), img, "sch1")
	if apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("err = %v, want Internal", err)
	}
	if msg := apperr.Message(err, "Internal server error"); msg != "Internal server error" {
		t.Errorf("internal detail exposed: %q", msg)
	}
	if img.released != 1 {
		t.Errorf("image released %d times", img.released)
	}
}

func TestMarkPublishesScanEvents(t *testing.T) {
	fs := seed()
	pub := &fakePublisher{}
	clk := &clock{t: scheduleStart.Add(55 * time.Minute)}

	svc := NewService(fs, &fakeRecognizer{name: "Alice"}, nil, WithPublisher(pub), WithClock(clk.now))
	if _, err := svc.Mark(context.Background(), &fakeImage{}, "sch1"); err != nil {
		t.Fatal(err)
	}
	svcBob := NewService(fs, &fakeRecognizer{name: "Bob"}, nil, WithPublisher(pub), WithClock(clk.now))
	_, _ = svcBob.Mark(context.Background(), &fakeImage{}, "sch1")
	_, _ = svcBob.Mark(context.Background(), nil, "sch1")

	events := pub.events(t)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (bad requests are not audited)", len(events))
	}
	ok := events[0]
	if ok.Outcome != "recorded" || ok.Prediction != "Alice" || ok.Status == nil || *ok.Status != model.StatusLate {
		t.Errorf("success event = %+v", ok)
	}
	if ok.ElapsedMinutes == nil || *ok.ElapsedMinutes != 55 {
		t.Errorf("elapsed = %v", ok.ElapsedMinutes)
	}
	miss := events[1]
	if miss.Outcome != "not_found" || miss.StudentID == nil || *miss.StudentID != "u-bob" || miss.Status != nil {
		t.Errorf("miss event = %+v", miss)
	}
}

func TestMarkArchivesAndInvalidatesRecap(t *testing.T) {
	fs := seed()
	cache := newFakeCache()
	cache.recaps["sch1"] = &model.Recap{ScheduleID: "sch1"}
	pub := &fakePublisher{}
	svc := NewService(fs, &fakeRecognizer{name: "Alice"}, nil,
		WithRecapCache(cache),
		WithArchiver(&fakeArchiver{url: "https://cdn.test/scan.jpg"}),
		WithPublisher(pub))

	if _, err := svc.Mark(context.Background(), &fakeImage{}, "sch1"); err != nil {
		t.Fatal(err)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "sch1" {
		t.Errorf("invalidated = %v", cache.invalidated)
	}
	events := pub.events(t)
	if len(events) != 1 || events[0].ImageURL == nil || *events[0].ImageURL != "https://cdn.test/scan.jpg" {
		t.Errorf("events = %+v", events)
	}
}

func rosterStore(students, scanned int) *fakeStore {
	fs := seed()
	fs.people = fs.people[:0]
	fs.enrollments = nil
	for i := 0; i < students; i++ {
		id := fmt.Sprintf("u%d", i)
		fs.people = append(fs.people, model.Person{ID: id, Name: fmt.Sprintf("Student %d", i), Email: id + "@uni.test", Role: model.RoleStudent})
		fs.enrollments = append(fs.enrollments, model.Enrollment{ID: "e" + id, StudentID: id, CourseID: "c1"})
	}
	for i := 0; i < scanned; i++ {
		id := fmt.Sprintf("u%d", i*2)
		fs.rows[[2]string{"sch1", id}] = model.Attendance{
			ID: "a" + id, ScheduleID: "sch1", StudentID: id, Status: model.StatusPresent,
			RecordedAt: scheduleStart.Add(5 * time.Minute),
		}
	}
	return fs
}

func TestRecapCoversWholeRoster(t *testing.T) {
	fs := rosterStore(5, 2)
	recap, err := NewService(fs, nil, nil).Recap(context.Background(), "sch1")
	if err != nil {
		t.Fatal(err)
	}
	if recap.SessionTitle != "Intro" || recap.SessionID != "s1" || !recap.StartTime.Equal(scheduleStart) {
		t.Errorf("header = %+v", recap)
	}
	if len(recap.Students) != 5 {
		t.Fatalf("students = %d, want 5", len(recap.Students))
	}

	absent := 0
	for i, s := range recap.Students {
		if s.StudentID != fmt.Sprintf("u%d", i) {
			t.Errorf("position %d holds %s, want enrollment order", i, s.StudentID)
		}
		switch s.Status {
		case model.StatusAbsent:
			absent++
			if s.RecordedAt != nil {
				t.Errorf("%s absent with timestamp", s.StudentID)
			}
		case model.StatusPresent:
			if s.RecordedAt == nil {
				t.Errorf("%s present without timestamp", s.StudentID)
			}
		}
	}
	if absent != 3 {
		t.Errorf("absent = %d, want 3", absent)
	}
}

func TestRecapSkipsNonStudents(t *testing.T) {
	fs := seed()
	fs.enrollments = append(fs.enrollments, model.Enrollment{ID: "e2", StudentID: "u-teach", CourseID: "c1"})
	recap, err := NewService(fs, nil, nil).Recap(context.Background(), "sch1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recap.Students) != 1 || recap.Students[0].StudentID != "u-alice" {
		t.Errorf("students = %+v", recap.Students)
	}
}

func TestRecapEmptyRosterIsEmptySlice(t *testing.T) {
	fs := seed()
	fs.enrollments = nil
	recap, err := NewService(fs, nil, nil).Recap(context.Background(), "sch1")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(recap)
	if !strings.Contains(string(raw), `"students":[]`) {
		t.Errorf("json = %s", raw)
	}
}

func TestRecapErrors(t *testing.T) {
	fs := seed()
	svc := NewService(fs, nil, nil)

	if _, err := svc.Recap(context.Background(), ""); apperr.KindOf(err) != apperr.BadRequest {
		t.Errorf("empty id: %v", err)
	}
	if fs.calls != 0 {
		t.Errorf("store called %d times for bad request", fs.calls)
	}
	if _, err := svc.Recap(context.Background(), "missing"); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("missing schedule: %v", err)
	}
}

func TestRecapCache(t *testing.T) {
	fs := rosterStore(3, 1)
	cache := newFakeCache()
	svc := NewService(fs, &fakeRecognizer{name: "Student 1"}, nil, WithRecapCache(cache))

	if _, err := svc.Recap(context.Background(), "sch1"); err != nil {
		t.Fatal(err)
	}
	calls := fs.calls
	if _, err := svc.Recap(context.Background(), "sch1"); err != nil {
		t.Fatal(err)
	}
	if fs.calls != calls {
		t.Errorf("cached recap hit the store")
	}

	if _, err := svc.Mark(context.Background(), &fakeImage{}, "sch1"); err != nil {
		t.Fatal(err)
	}
	recap, err := svc.Recap(context.Background(), "sch1")
	if err != nil {
		t.Fatal(err)
	}
	if recap.Students[1].Status == model.StatusAbsent {
		t.Errorf("recap served stale data after mark: %+v", recap.Students[1])
	}
}

// staleReadStore lets a mark land after the recap has read its rows.
type staleReadStore struct {
	*fakeStore
	afterRead func()
}

func (s *staleReadStore) ListAttendanceBySchedule(ctx context.Context, scheduleID string) ([]model.Attendance, error) {
	rows, err := s.fakeStore.ListAttendanceBySchedule(ctx, scheduleID)
	if s.afterRead != nil {
		hook := s.afterRead
		s.afterRead = nil
		hook()
	}
	return rows, err
}

func TestRecapBuiltBeforeMarkIsNotCached(t *testing.T) {
	st := &staleReadStore{fakeStore: rosterStore(3, 0)}
	cache := newFakeCache()
	svc := NewService(st, &fakeRecognizer{name: "Student 1"}, nil, WithRecapCache(cache))

	st.afterRead = func() {
		if _, err := svc.Mark(context.Background(), &fakeImage{}, "sch1"); err != nil {
			t.Errorf("Mark: %v", err)
		}
	}
	stale, err := svc.Recap(context.Background(), "sch1")
	if err != nil {
		t.Fatal(err)
	}
	if stale.Students[1].Status != model.StatusAbsent {
		t.Fatalf("first recap should predate the mark: %+v", stale.Students[1])
	}

	fresh, err := svc.Recap(context.Background(), "sch1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Students[1].Status == model.StatusAbsent {
		t.Errorf("recap read before the mark was served from cache: %+v", fresh.Students[1])
	}
}

func TestMarkDoesNotWaitOnFullQueue(t *testing.T) {
	q := queue.NewInMemory(1)
	svc := NewService(seed(), &fakeRecognizer{name: "Alice"}, nil,
		WithPublisher(q), WithPublishTimeout(50*time.Millisecond))

	for i := 0; i < 2; i++ {
		done := make(chan error, 1)
		go func() {
			_, err := svc.Mark(context.Background(), &fakeImage{}, "sch1")
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("mark %d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("mark %d blocked on a queue nobody drains", i)
		}
	}
}
