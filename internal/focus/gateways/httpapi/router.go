// Package httpapi is the daemon's control plane: a small gin router for
// starting and stopping sessions, inspecting state and evaluating URLs.
//
// Routes:
//
//	PUT    /v1/session              replace the desired state
//	DELETE /v1/session              stop blocking, keep hosts
//	POST   /v1/presets/:name/start  start a session from a preset
//	GET    /v1/status               desired state, sync record, installed rules
//	GET    /v1/decide?url=&kind=    evaluate a URL against installed rules
//	GET    /v1/presets              list presets
//	GET    /v1/bridge               page bridge websocket
//	GET    /metrics                 prometheus metrics
//	GET    /healthz                 liveness
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/repos/preset"
	"github.com/haukened/rr-focus/internal/focus/services/session"
)

// Ingress is the session service.
type Ingress interface {
	Update(ctx context.Context, req domain.UpdateRequest) (session.Result, error)
	Stop(ctx context.Context) (session.Result, error)
	StartPreset(ctx context.Context, name string) (session.Result, error)
	Snapshot() session.Snapshot
}

// Decider evaluates URLs against the installed rules.
type Decider interface {
	Decide(rawURL string, kind domain.ResourceKind) domain.BlockDecision
}

// PresetLister lists available presets.
type PresetLister interface {
	List() []preset.Preset
}

// Options configures the router. Ingress is required; routes whose
// collaborator is nil are not registered.
type Options struct {
	Ingress Ingress
	Decider Decider
	Presets PresetLister
	Bridge  http.Handler
	Metrics http.Handler
	Logger  log.Logger
}

type handlers struct {
	ingress Ingress
	decider Decider
	presets PresetLister
	logger  log.Logger
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// DecideResponse wraps a block decision with the evaluated input.
type DecideResponse struct {
	URL      string               `json:"url"`
	Kind     domain.ResourceKind  `json:"kind"`
	Decision domain.BlockDecision `json:"decision"`
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	h := &handlers{
		ingress: opts.Ingress,
		decider: opts.Decider,
		presets: opts.Presets,
		logger:  log.Component(opts.Logger, "httpapi"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog)

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/v1")
	v1.PUT("/session", h.putSession)
	v1.DELETE("/session", h.deleteSession)
	v1.GET("/status", h.getStatus)
	if opts.Decider != nil {
		v1.GET("/decide", h.getDecide)
	}
	if opts.Presets != nil {
		v1.GET("/presets", h.getPresets)
		v1.POST("/presets/:name/start", h.startPreset)
	}
	if opts.Bridge != nil {
		v1.GET("/bridge", gin.WrapH(opts.Bridge))
	}
	return router
}

func (h *handlers) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug(map[string]any{
		"method":  c.Request.Method,
		"path":    c.FullPath(),
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}, "request served")
}

func (h *handlers) putSession(c *gin.Context) {
	req, err := session.DecodeUpdate(c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.ingress.Update(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) deleteSession(c *gin.Context) {
	res, err := h.ingress.Stop(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) startPreset(c *gin.Context) {
	res, err := h.ingress.StartPreset(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.ingress.Snapshot())
}

func (h *handlers) getDecide(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		h.fail(c, domain.NewValidationError("url", "required"))
		return
	}
	kind := domain.ResourceKind(c.DefaultQuery("kind", string(domain.ResourceMainFrame)))
	switch kind {
	case domain.ResourceMainFrame, domain.ResourceSubFrame, domain.ResourceOther:
	default:
		h.fail(c, domain.NewValidationError("kind", "unknown resource kind %q", kind))
		return
	}
	c.JSON(http.StatusOK, DecideResponse{URL: rawURL, Kind: kind, Decision: h.decider.Decide(rawURL, kind)})
}

func (h *handlers) getPresets(c *gin.Context) {
	c.JSON(http.StatusOK, h.presets.List())
}

// fail maps the error taxonomy onto status codes: validation 400, apply 502,
// anything else 500.
func (h *handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := ErrorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body.Field = verr.Field
	case errors.Is(err, domain.ErrApply):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(map[string]any{"error": err, "path": c.FullPath()}, "request failed")
	}
	c.AbortWithStatusJSON(status, body)
}
