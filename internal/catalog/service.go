package catalog

import (
	"context"

	"classattend/internal/apperr"
	"classattend/internal/model"
)

// Store is the read side the catalog needs.
type Store interface {
	ListCourses(ctx context.Context) ([]model.Course, error)
	ListSessions(ctx context.Context, courseID string) ([]model.Session, error)
	ListStudents(ctx context.Context, courseID string) ([]model.Person, error)
}

// Service serves the course browsing endpoints. Results are never nil so
// they encode as JSON arrays.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Courses(ctx context.Context) ([]model.Course, error) {
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "Failed to fetch courses")
	}
	if courses == nil {
		courses = []model.Course{}
	}
	return courses, nil
}

func (s *Service) Sessions(ctx context.Context, courseID string) ([]model.Session, error) {
	if courseID == "" {
		return nil, apperr.BadRequestf("courseId is required")
	}
	sessions, err := s.store.ListSessions(ctx, courseID)
	if err != nil {
		return nil, apperr.Wrap(err, "Failed to fetch sessions")
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

func (s *Service) Students(ctx context.Context, courseID string) ([]model.Person, error) {
	if courseID == "" {
		return nil, apperr.BadRequestf("courseId is required")
	}
	students, err := s.store.ListStudents(ctx, courseID)
	if err != nil {
		return nil, apperr.Wrap(err, "Failed to fetch students")
	}
	if students == nil {
		students = []model.Person{}
	}
	return students, nil
}
