// Package admin serves the HTTP side channel of xlloopd: liveness,
// metrics, the function catalogue and connection status.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/xlloop/internal/auth"
	"github.com/danmuck/xlloop/internal/functions"
	"github.com/danmuck/xlloop/internal/observability"
	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
	"github.com/danmuck/xlloop/internal/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// StatusSource reports the call server state.
type StatusSource interface {
	Status() server.Status
}

// Catalog lists the functions a server exposes.
type Catalog interface {
	List() []functions.Function
}

type Config struct {
	Name        string
	Addr        string
	CorsOrigins []string
	// CallToken, when set, is required as a bearer token on the call route.
	CallToken string
	// Authorize, when set, checks call-route tokens instead of CallToken.
	Authorize func(token string) error
}

type Admin struct {
	cfg      Config
	status   StatusSource
	catalog  Catalog
	handler  session.Handler
	guard    auth.Validator
	router   *gin.Engine
	appeared time.Time
	httpSrv  *http.Server
}

// New builds the admin router. handler may be nil, which disables the
// HTTP call route.
func New(cfg Config, status StatusSource, catalog Catalog, handler session.Handler) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		cfg:      cfg,
		status:   status,
		catalog:  catalog,
		handler:  handler,
		router:   r,
		appeared: time.Now(),
	}
	switch {
	case cfg.Authorize != nil:
		a.guard = auth.FuncValidator(cfg.Authorize)
	case strings.TrimSpace(cfg.CallToken) != "":
		a.guard = auth.StaticToken{Token: strings.TrimSpace(cfg.CallToken)}
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(a.cfg.Addr))
	if err != nil {
		return err
	}
	a.httpSrv = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("xlloop admin listening")

	errc := make(chan error, 1)
	go func() { errc <- a.httpSrv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.appeared).String(),
			"service": a.cfg.Name,
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.status != nil && a.status.Status().Listening
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"uptime":  time.Since(a.appeared).String(),
			"service": a.cfg.Name,
			"version": version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/status", func(c *gin.Context) {
		if a.status == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no call server attached"})
			return
		}
		c.JSON(http.StatusOK, a.status.Status())
	})

	a.router.GET("/functions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"functions": a.functionList()})
	})

	a.router.POST("/functions/:name/call", a.requireToken, a.callFunction)
}

func (a *Admin) requireToken(c *gin.Context) {
	if a.guard == nil {
		c.Next()
		return
	}
	if err := auth.CheckHeader(a.guard, c.GetHeader("Authorization")); err != nil {
		log.Warn().Str("path", c.FullPath()).Str("client_ip", c.ClientIP()).Msg("admin call rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

type FunctionInfo struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Help     string   `json:"help,omitempty"`
	Args     []string `json:"args,omitempty"`
	Volatile bool     `json:"volatile"`
}

func (a *Admin) functionList() []FunctionInfo {
	if a.catalog == nil {
		return []FunctionInfo{}
	}
	list := a.catalog.List()
	out := make([]FunctionInfo, 0, len(list))
	for _, fn := range list {
		out = append(out, FunctionInfo{
			Name:     fn.Name,
			Category: fn.Category,
			Help:     fn.Help,
			Args:     fn.Args,
			Volatile: fn.Volatile,
		})
	}
	return out
}

type callRequest struct {
	Args []any `json:"args"`
}

type callResponse struct {
	Type   string `json:"type"`
	Result string `json:"result"`
}

// callFunction invokes a function with JSON arguments, for smoke tests
// without a spreadsheet client.
func (a *Admin) callFunction(c *gin.Context) {
	if a.handler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "calls disabled"})
		return
	}
	var req callRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	args := make([]protocol.Value, len(req.Args))
	for i, arg := range req.Args {
		args[i] = protocol.FromGo(arg)
	}

	result, err := a.handler.Invoke(c.Request.Context(), nil, c.Param("name"), args)
	if err != nil {
		log.Error().Str("function", c.Param("name")).Err(err).Msg("admin call failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		result = protocol.Nil{}
	}
	c.JSON(http.StatusOK, callResponse{Type: result.Tag().String(), Result: result.String()})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
