// Package httpapi is the HTTP control surface of the daemon: connecting to a
// meter, toggling national grid data, span queries, exports and rendered
// graphs.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/generation"
	"github.com/tejusbharadwaj/currentcost/internal/livedata"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
	"github.com/tejusbharadwaj/currentcost/internal/settings"
	"github.com/tejusbharadwaj/currentcost/internal/span"
	"github.com/tejusbharadwaj/currentcost/internal/transport"
)

// LiveData is the part of a live-data session the API drives.
type LiveData interface {
	Connect(kind models.TransportKind, target transport.Target) error
	Disconnect()
	StartDemand() error
	StopDemand()
	PauseDemand()
	StartFrequency() error
	StopFrequency()
	PauseFrequency()
	OnSelect(ctx context.Context, xmin, xmax time.Time) (span.Summary, error)
	WriteLiveData(w io.Writer) error
	RenderGeneration(w io.Writer) error
	Redraw() error
	Status() livedata.Status
}

// FrameSource returns the last rendered live graph.
type FrameSource interface {
	Frame() ([]byte, time.Time)
}

// HealthSource reports the serving status of each component.
type HealthSource interface {
	Statuses() map[string]string
}

// Deps are the components served by the API. Frames, Health and Store may be
// nil; their routes then answer 503.
type Deps struct {
	Live     LiveData
	Frames   FrameSource
	Health   HealthSource
	Store    settings.Store
	Gatherer prometheus.Gatherer

	AllowedOrigins []string
}

type Server struct {
	deps      Deps
	validator *RequestValidator
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

func NewServer(deps Deps, logger *logrus.Logger, m *metrics.Metrics) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		deps:      deps,
		validator: NewRequestValidator(),
		logger:    logger,
		metrics:   m,
	}
}

// Handler builds the router, wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(ErrorHandler(s.logger))
	router.Use(Logger(s.logger, s.metrics))

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.POST("/connect", s.connect)
		api.POST("/disconnect", s.disconnect)
		api.POST("/grid/:feed/:action", s.grid)

		api.GET("/status", s.status)
		api.GET("/span", s.span)
		api.GET("/export", s.export)
		api.GET("/chart.png", s.chart)
		api.GET("/generation.png", s.generation)

		api.GET("/settings/:key", s.getSetting)
		api.PUT("/settings/:key", s.putSetting)
	}

	router.NoRoute(func(c *gin.Context) {
		abort(c, http.StatusNotFound, "NOT_FOUND", "no such route")
	})

	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Health != nil {
		body["components"] = s.deps.Health.Statuses()
	}
	c.JSON(http.StatusOK, body)
}

// connect handles POST /api/v1/connect
func (s *Server) connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	kind := models.TransportKind(req.Transport)
	err := s.deps.Live.Connect(kind, transport.Target{Address: req.Address, Topic: req.Topic})
	switch {
	case errors.Is(err, livedata.ErrUnsupportedTransport), errors.Is(err, transport.ErrUnknownKind):
		abort(c, http.StatusBadRequest, "UNSUPPORTED_TRANSPORT", err.Error())
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, "CONNECT_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, s.deps.Live.Status())
}

func (s *Server) disconnect(c *gin.Context) {
	s.deps.Live.Disconnect()
	c.JSON(http.StatusOK, s.deps.Live.Status())
}

// grid handles POST /api/v1/grid/:feed/:action
func (s *Server) grid(c *gin.Context) {
	feed, action := c.Param("feed"), c.Param("action")
	if err := s.validator.ValidateGridAction(feed, action); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var err error
	switch feed + "/" + action {
	case "demand/start":
		err = s.deps.Live.StartDemand()
	case "demand/stop":
		s.deps.Live.StopDemand()
	case "demand/pause":
		s.deps.Live.PauseDemand()
	case "frequency/start":
		err = s.deps.Live.StartFrequency()
	case "frequency/stop":
		s.deps.Live.StopFrequency()
	case "frequency/pause":
		s.deps.Live.PauseFrequency()
	}
	switch {
	case errors.Is(err, livedata.ErrNoDemandFeed):
		abort(c, http.StatusConflict, "FEED_NOT_CONFIGURED", err.Error())
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, "GRID_DISPLAY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.deps.Live.Status())
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Live.Status())
}

// span handles GET /api/v1/span?from=...&to=...
func (s *Server) span(c *gin.Context) {
	var req SpanRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	from, to, err := s.validator.ValidateSpan(req.From, req.To)
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_SPAN", err.Error())
		return
	}

	summary, err := s.deps.Live.OnSelect(c.Request.Context(), from, to)
	if errors.Is(err, span.ErrInvalidSpan) {
		abort(c, http.StatusBadRequest, "INVALID_SPAN", err.Error())
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "SPAN_QUERY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, SpanResponse{Summary: summary, Message: summary.Message()})
}

// export handles GET /api/v1/export
func (s *Server) export(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.deps.Live.WriteLiveData(&buf); err != nil {
		abort(c, http.StatusInternalServerError, "EXPORT_FAILED", err.Error())
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="currentcost-%s.csv"`,
		time.Now().UTC().Format("20060102-150405")))
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

// chart handles GET /api/v1/chart.png. ?refresh=true redraws first.
func (s *Server) chart(c *gin.Context) {
	if s.deps.Frames == nil {
		abort(c, http.StatusServiceUnavailable, "NO_CHART", "chart rendering is disabled")
		return
	}
	if c.Query("refresh") == "true" {
		if err := s.deps.Live.Redraw(); err != nil {
			abort(c, http.StatusInternalServerError, "REDRAW_FAILED", err.Error())
			return
		}
	}
	frame, at := s.deps.Frames.Frame()
	if len(frame) == 0 {
		abort(c, http.StatusServiceUnavailable, "NO_CHART", "nothing has been drawn yet")
		return
	}
	c.Header("Last-Modified", at.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, "image/png", frame)
}

// generation handles GET /api/v1/generation.png
func (s *Server) generation(c *gin.Context) {
	var buf bytes.Buffer
	err := s.deps.Live.RenderGeneration(&buf)
	if errors.Is(err, generation.ErrNotEnoughData) {
		abort(c, http.StatusConflict, "NOT_ENOUGH_DATA", err.Error())
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "RENDER_FAILED", err.Error())
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) getSetting(c *gin.Context) {
	key := c.Param("key")
	if err := s.validator.ValidateSetting(key, nil); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if s.deps.Store == nil {
		abort(c, http.StatusServiceUnavailable, "NO_SETTINGS", "no settings store configured")
		return
	}

	value, err := s.deps.Store.Get(c.Request.Context(), key)
	if errors.Is(err, settings.ErrNotFound) {
		abort(c, http.StatusNotFound, "NOT_SET", err.Error())
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "SETTINGS_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, SettingResponse{Key: key, Value: value})
}

func (s *Server) putSetting(c *gin.Context) {
	key := c.Param("key")
	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.validator.ValidateSetting(key, &req.Value); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if s.deps.Store == nil {
		abort(c, http.StatusServiceUnavailable, "NO_SETTINGS", "no settings store configured")
		return
	}

	if err := s.deps.Store.Set(c.Request.Context(), key, req.Value); err != nil {
		abort(c, http.StatusInternalServerError, "SETTINGS_FAILED", err.Error())
		return
	}
	s.logger.WithFields(logrus.Fields{"key": key, "value": req.Value}).Info("Setting updated")
	c.JSON(http.StatusOK, SettingResponse{Key: key, Value: req.Value})
}
