// Package server exposes the supervisor over HTTP.
//
// Endpoints, relative to the configured base path:
//
//	GET    /healthz                   liveness probe
//	GET    /metrics                   Prometheus exposition (when enabled)
//	GET    /instances                 status of every known instance
//	POST   /instances                 register a launch definition (Spec JSON)
//	GET    /instances/:name           one status snapshot
//	DELETE /instances/:name           stop if live, forget the definition
//	POST   /instances/:name/start     start from the definition, or from an
//	                                  optional Spec JSON body
//	POST   /instances/:name/stop      run the shutdown ladder
//	POST   /instances/:name/restart   stop, then start from the definition
//	POST   /instances/:name/command   {"command": "..."} to the console
//	GET    /instances/:name/output    drain buffered console lines
//	GET    /instances/:name/history   recent lifecycle events
//	GET    /history                   recent events across all instances
//	GET    /console/:name             interactive WebSocket console
//
// Reading output is destructive: the HTTP output endpoint and console
// sessions share one drain cursor per instance.
package server

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/warden/internal/auth"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/instance"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/registry"
)

// Config wires a Router. Registry is required; everything else is
// optional.
type Config struct {
	Registry *registry.Registry
	History  history.Store // nil disables the history endpoints
	Auth     *auth.Service // nil disables authentication
	BasePath string
	Metrics  bool // mount GET /metrics
	Logger   *slog.Logger
}

// Router provides embeddable HTTP handlers for driving the supervisor.
type Router struct {
	reg      *registry.Registry
	store    history.Store
	authSvc  *auth.Service
	basePath string
	metrics  bool
	logger   *slog.Logger
}

func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		reg:      cfg.Registry,
		store:    cfg.History,
		authSvc:  cfg.Auth,
		basePath: sanitizeBase(cfg.BasePath),
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := group.Group("", auth.GinAuth(r.authSvc))
	api.GET("/instances", r.handleList)
	api.POST("/instances", r.handleRegister)
	api.GET("/instances/:name", r.handleStatus)
	api.DELETE("/instances/:name", r.handleUnregister)
	api.POST("/instances/:name/start", r.handleStart)
	api.POST("/instances/:name/stop", r.handleStop)
	api.POST("/instances/:name/restart", r.handleRestart)
	api.POST("/instances/:name/command", r.handleCommand)
	api.GET("/instances/:name/output", r.handleOutput)
	api.GET("/instances/:name/history", r.handleInstanceHistory)
	api.GET("/history", r.handleHistory)
	api.GET("/console/:name", r.handleConsole)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Shutdown or Close on the returned server to stop it.
func NewServer(addr string, cfg Config) *http.Server {
	r := NewRouter(cfg)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// NewTLSServer is NewServer over HTTPS. tlsConf must carry at least one
// certificate source; build it with the tls package from this module.
func NewTLSServer(addr string, cfg Config, tlsConf *tls.Config) *http.Server {
	r := NewRouter(cfg)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error    string   `json:"error"`
	ExitCode *int     `json:"exit_code,omitempty"`
	Output   []string `json:"output,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type stopResp struct {
	OK      bool `json:"ok"`
	Stopped bool `json:"stopped"`
}

type outputResp struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) paramName(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid instance name: allowed [A-Za-z0-9._-] without '..'"})
		return "", false
	}
	return name, true
}

// known reports whether name has a definition or a live process. The
// HTTP surface answers 404 for everything else.
func (r *Router) known(name string) bool {
	if _, ok := r.reg.Definition(name); ok {
		return true
	}
	return r.reg.IsRunning(name)
}

func (r *Router) writeOpError(c *gin.Context, err error) {
	var le *instance.LaunchError
	switch {
	case errors.Is(err, registry.ErrUnknownInstance):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.As(err, &le):
		code := le.ExitCode
		writeJSON(c, http.StatusBadGateway, errorResp{Error: le.Error(), ExitCode: &code, Output: le.Output})
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	}
}

// bindSpec decodes and sanity-checks a Spec body. Path fields must be
// absolute: the daemon's working directory means nothing to API
// clients.
func (r *Router) bindSpec(c *gin.Context) (instance.Spec, bool) {
	var spec instance.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return spec, false
	}
	if !isSafeAbsPath(spec.Dir) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid dir: must be absolute path without traversal"})
		return spec, false
	}
	if !isSafeAbsPath(spec.ConsoleLog) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid console_log: must be absolute path without traversal"})
		return spec, false
	}
	return spec, true
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.reg.List())
}

func (r *Router) handleRegister(c *gin.Context) {
	spec, ok := r.bindSpec(c)
	if !ok {
		return
	}
	if !isSafeName(spec.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid spec.name: allowed [A-Za-z0-9._-] without '..'"})
		return
	}
	if err := r.reg.Register(spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	if !r.known(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown instance"})
		return
	}
	writeJSON(c, http.StatusOK, r.reg.GetStatus(name))
}

func (r *Router) handleUnregister(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	if err := r.reg.Unregister(name); err != nil {
		r.writeOpError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}

	var err error
	if c.Request.ContentLength > 0 {
		var spec instance.Spec
		spec, ok = r.bindSpec(c)
		if !ok {
			return
		}
		_, err = r.reg.Start(name, spec)
	} else {
		_, err = r.reg.StartByName(name)
	}
	if err != nil {
		r.writeOpError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	if !r.known(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown instance"})
		return
	}
	stopped, err := r.reg.Stop(name)
	if err != nil {
		r.writeOpError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stopResp{OK: true, Stopped: stopped})
}

func (r *Router) handleRestart(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	if _, err := r.reg.Restart(name); err != nil {
		r.writeOpError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCommand(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	var body struct {
		Command string `json:"command"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if !r.known(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown instance"})
		return
	}
	sent, err := r.reg.SendCommand(name, body.Command)
	if err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	if !sent {
		writeJSON(c, http.StatusConflict, errorResp{Error: "instance not running"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleOutput(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	if !r.known(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown instance"})
		return
	}
	lines := r.reg.ReadOutput(name)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, outputResp{Name: name, Lines: lines})
}

func (r *Router) handleInstanceHistory(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	r.serveHistory(c, name)
}

func (r *Router) handleHistory(c *gin.Context) {
	r.serveHistory(c, c.Query("name"))
}

func (r *Router) serveHistory(c *gin.Context, name string) {
	if r.store == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled"})
		return
	}
	limit := 0
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	events, err := r.store.Recent(c.Request.Context(), name, limit)
	if err != nil {
		r.logger.Warn("history query failed", "instance", name, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "history query failed"})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}
