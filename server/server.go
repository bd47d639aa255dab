// Package server exposes a risk engine over HTTP with gin.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/warriorguo/riskflow/runtime"
	"github.com/warriorguo/riskflow/types"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
)

type Options struct {
	/**
	 * default: :8080
	 */
	Addr string `default:":8080"`
	/**
	 * default: 1048576
	 * request bodies above this size are rejected.
	 */
	MaxBodyBytes int64 `default:"1048576"`
	/**
	 * default: 50
	 * page size of GET /api/transactions when no limit is given.
	 */
	DefaultListLimit int `default:"50"`
	/**
	 * default: 10s
	 * how long Run waits for in-flight requests after ctx is done.
	 */
	ShutdownTimeout time.Duration `default:"10s"`
	ReleaseMode     bool          `default:"false"`

	// nil serves prometheus.DefaultGatherer on /metrics
	Gatherer prometheus.Gatherer
	Logger   log.FieldLogger
}

type Option func(*Options)

func WithAddr(addr string) Option {
	return func(o *Options) {
		o.Addr = addr
	}
}

func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(o *Options) {
		o.Gatherer = gatherer
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(o *Options) {
		o.MaxBodyBytes = n
	}
}

func WithReleaseMode() Option {
	return func(o *Options) {
		o.ReleaseMode = true
	}
}

func WithLogger(logger log.FieldLogger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.ShutdownTimeout = timeout
	}
}

type Server struct {
	engine *runtime.Engine
	opts   *Options
	logger log.FieldLogger
	router *gin.Engine

	mu      sync.Mutex
	httpSrv *http.Server
}

func New(engine *runtime.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.NotValidf("nil engine")
	}
	options := &Options{}
	defaults.SetDefaults(options)
	for _, opt := range opts {
		opt(options)
	}
	if options.Gatherer == nil {
		options.Gatherer = prometheus.DefaultGatherer
	}
	if options.Logger == nil {
		options.Logger = log.StandardLogger()
	}
	if options.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine: engine,
		opts:   options,
		logger: options.Logger,
		router: gin.New(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Router returns the gin router, mostly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.requestLogger(c).WithField("path", c.Request.URL.Path).Errorf("panic recovered: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.bodyLimitMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && s.opts.MaxBodyBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes)
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		entry := s.requestLogger(c).WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case status >= 500:
			entry.WithField("client_ip", c.ClientIP()).Error("request completed")
		case status >= 400:
			entry.Warn("request completed")
		default:
			entry.Debug("request completed")
		}
	}
}

func (s *Server) requestLogger(c *gin.Context) log.FieldLogger {
	if requestID := c.GetString(requestIDKey); requestID != "" {
		return s.logger.WithField("request_id", requestID)
	}
	return s.logger
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api")
	api.GET("/health", s.healthHandler)

	api.GET("/workflow", s.getWorkflowHandler)
	api.PUT("/workflow", s.putWorkflowHandler)
	api.GET("/workflow/dot", s.workflowDOTHandler)

	api.POST("/transactions/evaluate", s.evaluateHandler)
	api.GET("/transactions", s.listTransactionsHandler)
	api.GET("/transactions/:id", s.getTransactionHandler)
	api.GET("/transactions/:id/dot", s.transactionDOTHandler)

	api.GET("/metrics", s.metricsHandler)
	api.GET("/suggestions", s.suggestionsHandler)
	api.POST("/actions/block", s.blockActionHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	workflow := s.engine.ActiveWorkflow()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"workflowId":      workflow.ID,
		"workflowVersion": workflow.Version,
	})
}

func (s *Server) getWorkflowHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ActiveWorkflow())
}

func (s *Server) putWorkflowHandler(c *gin.Context) {
	var workflow types.Workflow
	if err := c.ShouldBindJSON(&workflow); err != nil {
		s.abortWithError(c, errors.NewBadRequest(err, "invalid workflow body"))
		return
	}

	if err := runtime.ValidateWorkflow(&workflow); err != nil {
		s.abortWithError(c, errors.NewBadRequest(err, "invalid workflow"))
		return
	}
	stored, err := s.engine.SetWorkflow(c.Request.Context(), &workflow)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "workflow": stored})
}

func (s *Server) workflowDOTHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8",
		[]byte(runtime.RenderDOT(s.engine.ActiveWorkflow(), nil)))
}

// evaluateHandler takes either one transaction object or an array of them.
func (s *Server) evaluateHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		s.abortWithError(c, errors.BadRequestf("empty body"))
		return
	}

	ctx := c.Request.Context()
	if body[0] == '[' {
		var txs []*types.Transaction
		if err := json.Unmarshal(body, &txs); err != nil {
			s.abortWithError(c, errors.NewBadRequest(err, "invalid transactions body"))
			return
		}
		records, err := s.engine.EvaluateBatch(ctx, txs)
		if err != nil {
			// decisions are valid even when records could not be persisted
			s.requestLogger(c).Warnf("batch evaluated with persistence errors: %v", err)
		}
		c.JSON(http.StatusOK, gin.H{"results": records})
		return
	}

	var tx types.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		s.abortWithError(c, errors.NewBadRequest(err, "invalid transaction body"))
		return
	}
	record, err := s.engine.Evaluate(ctx, &tx)
	if err != nil {
		s.requestLogger(c).Warnf("transaction %s evaluated but not persisted: %v", tx.ID, err)
	}
	c.JSON(http.StatusOK, record)
}

// listTransactionsHandler returns the kept records, newest first.
func (s *Server) listTransactionsHandler(c *gin.Context) {
	limit := s.opts.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 0 {
			s.abortWithError(c, errors.BadRequestf("limit %q", raw))
			return
		}
		limit = n
	}

	recent := s.engine.RecentRecords()
	if limit > len(recent) {
		limit = len(recent)
	}
	records := make([]*types.ExecutionRecord, 0, limit)
	for i := len(recent) - 1; i >= len(recent)-limit; i-- {
		records = append(records, recent[i])
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getTransactionHandler(c *gin.Context) {
	record, err := s.engine.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) transactionDOTHandler(c *gin.Context) {
	dot, err := s.engine.RenderRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(dot))
}

func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) suggestionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Suggestions())
}

type blockRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	Reason        string `json:"reason"`
}

// blockActionHandler acknowledges a manual block request. Nothing acts on
// it yet beyond the log line.
func (s *Server) blockActionHandler(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, errors.NewBadRequest(err, "invalid block request"))
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual block request accepted."
	}
	s.requestLogger(c).WithField("transaction_id", req.TransactionID).Infof("manual block requested: %s", req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"status":        "queued",
		"transactionId": req.TransactionID,
		"reason":        req.Reason,
	})
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.requestLogger(c).Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, errors.ErrorStack(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

func errorStatus(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, errors.BadRequest), errors.Is(err, errors.NotValid), errors.Is(err, errors.Forbidden):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict, "already_exists"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = httpSrv
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", s.opts.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return errors.Annotatef(err, "serve %s", s.opts.Addr)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	}
	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	s.mu.Lock()
	httpSrv := s.httpSrv
	s.mu.Unlock()
	if httpSrv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return errors.Annotatef(err, "shutdown http server")
	}
	return nil
}
