package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/apperr"
	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/model"
	"classattend/internal/observability"
)

// Attendance is the mark and recap side of the API.
type Attendance interface {
	Mark(ctx context.Context, img attendance.Image, scheduleID string) (*attendance.MarkResult, error)
	Recap(ctx context.Context, scheduleID string) (*model.Recap, error)
}

// Catalog serves course browsing.
type Catalog interface {
	Courses(ctx context.Context) ([]model.Course, error)
	Sessions(ctx context.Context, courseID string) ([]model.Session, error)
	Students(ctx context.Context, courseID string) ([]model.Person, error)
}

// Devices issues kiosk tokens.
type Devices interface {
	Register(ctx context.Context, deviceID string) (auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
}

// ScanLog lists recorded scan attempts.
type ScanLog interface {
	ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]model.ScanEvent, error)
}

// Checker is a dependency that can report its health.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// CheckFunc adapts a plain function to Checker.
type CheckFunc func(ctx context.Context) bool

func (f CheckFunc) Healthy(ctx context.Context) bool { return f(ctx) }

type Option func(*Handler)

func WithDevices(d Devices) Option { return func(h *Handler) { h.devices = d } }

// WithRegistrationKey requires key in the X-Registration-Key header of
// device registrations.
func WithRegistrationKey(key string) Option { return func(h *Handler) { h.registrationKey = key } }

func WithScanLog(s ScanLog) Option { return func(h *Handler) { h.scans = s } }

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, c Checker) Option {
	return func(h *Handler) { h.checks[name] = c }
}

// WithUploads sets where scan uploads are spooled and the size cap in bytes.
func WithUploads(dir string, maxBytes int64) Option {
	return func(h *Handler) { h.uploadDir, h.maxUpload = dir, maxBytes }
}

// WithLocation sets the zone export timestamps are rendered in.
func WithLocation(loc *time.Location) Option { return func(h *Handler) { h.loc = loc } }

// Handler holds the HTTP endpoints.
type Handler struct {
	att     Attendance
	catalog Catalog
	devices Devices
	scans   ScanLog
	checks  map[string]Checker
	log     *zap.Logger

	uploadDir string
	maxUpload int64
	loc       *time.Location

	registrationKey string
}

func New(att Attendance, catalog Catalog, log *zap.Logger, opts ...Option) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		att:       att,
		catalog:   catalog,
		checks:    map[string]Checker{},
		log:       log,
		maxUpload: 10 << 20,
		loc:       time.UTC,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every endpoint on r. markAuth, when set, guards the mark
// route only.
func (h *Handler) Routes(r gin.IRouter, markAuth ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	att := r.Group("/attendance")
	{
		att.POST("/mark", append(markAuth, h.Mark)...)
		att.GET("/schedule/:scheduleId", h.Recap)
		att.GET("/schedule/:scheduleId/export", h.Export)
		if h.scans != nil {
			att.GET("/schedule/:scheduleId/scans", h.Scans)
		}
	}

	courses := r.Group("/courses")
	{
		courses.GET("", h.Courses)
		courses.GET("/:courseId/sessions", h.Sessions)
		courses.GET("/:courseId/students", h.Students)
	}

	if h.devices != nil {
		register := []gin.HandlerFunc{h.RegisterDevice}
		if h.registrationKey != "" {
			register = append([]gin.HandlerFunc{auth.RegistrationKey(h.registrationKey)}, register...)
		}
		r.POST("/devices/register", register...)
		r.POST("/devices/refresh", h.RefreshDevice)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{}
	status := http.StatusOK
	for name, chk := range h.checks {
		ok := chk.Healthy(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// ---------- Catalog ----------

func (h *Handler) Courses(c *gin.Context) {
	courses, err := h.catalog.Courses(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, courses)
}

func (h *Handler) Sessions(c *gin.Context) {
	sessions, err := h.catalog.Sessions(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) Students(c *gin.Context) {
	students, err := h.catalog.Students(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

// ---------- Scan log ----------

func (h *Handler) Scans(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(c, apperr.BadRequestf("limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	events, err := h.scans.ListBySchedule(c.Request.Context(), c.Param("scheduleId"), limit)
	if err != nil {
		h.writeError(c, apperr.Wrap(err, "list scan events"))
		return
	}
	if events == nil {
		events = []model.ScanEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ---------- Devices ----------

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func newTokenResponse(p auth.TokenPair) tokenResponse {
	return tokenResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresAt: p.AccessExp.Unix()}
}

func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.BadRequestf("invalid JSON body"))
		return
	}
	pair, err := h.devices.Register(c.Request.Context(), req.DeviceID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTokenResponse(pair))
}

func (h *Handler) RefreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.BadRequestf("invalid JSON body"))
		return
	}
	pair, err := h.devices.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// writeError is the single place failures become HTTP responses. Internal
// errors are logged and reported, and their detail never reaches the client.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.BadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": apperr.Message(err, "Bad request")})
	case apperr.NotFound, apperr.RecognitionFailed:
		c.JSON(http.StatusNotFound, gin.H{"error": apperr.Message(err, "Not found")})
	default:
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
		observability.CaptureErr(err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
