// Package server exposes the gateway commands over HTTP.
//
// Every command is a JSON endpoint under /v1 that answers with the final
// message of the request. Progress notices are streamed on /ws, keyed by
// the X-Request-ID of the command. Administrative commands (sdstop, sdset,
// topup) need a bearer token matching the configured bcrypt hash.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sdgateway/core"
	"sdgateway/db"
	"sdgateway/imageutil"
	"sdgateway/logging"
	"sdgateway/metrics"
	"sdgateway/orchestrator"
)

const (
	previewSide     = 256
	shutdownTimeout = 10 * time.Second
	recentTaskLimit = 20
)

// Commands is the command surface served over HTTP.
// *orchestrator.Orchestrator satisfies it.
type Commands interface {
	Generate(ctx context.Context, requestID string, opts orchestrator.GenerateOptions) orchestrator.Result
	Interrogate(ctx context.Context, requestID string, opts orchestrator.InterrogateOptions) orchestrator.Result
	Stop(ctx context.Context, requestID string, serverIndex *int) orchestrator.Result
	Models(ctx context.Context, requestID string, q orchestrator.ModelQuery) orchestrator.Result
	SetOptions(ctx context.Context, requestID string, serverIndex *int, options json.RawMessage) orchestrator.Result
	List(kind string) orchestrator.Result
}

// Accounts manages balances. *billing.Gate satisfies it.
type Accounts interface {
	TopUp(ctx context.Context, userID string, amount int64) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// TaskLister reads task history. *db.Repository satisfies it.
type TaskLister interface {
	RecentTasks(ctx context.Context, limit int) ([]db.TaskRecord, error)
}

// Deps are the collaborators of a Server. Accounts, History, Metrics and
// Gatherer are optional.
type Deps struct {
	Commands Commands
	Hub      *Hub
	Accounts Accounts
	History  TaskLister
	Metrics  *metrics.Store
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// Server is the HTTP front of the gateway.
type Server struct {
	cfg      core.HTTPConfig
	engine   *gin.Engine
	commands Commands
	hub      *Hub
	accounts Accounts
	history  TaskLister
	metrics  *metrics.Store
	limiter  *userLimiter
	logger   *logging.Logger
}

// New builds the router.
func New(cfg *core.Config, deps Deps) (*Server, error) {
	if deps.Commands == nil {
		return nil, errors.New("server: commands are required")
	}
	if deps.Hub == nil {
		return nil, errors.New("server: hub is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg.HTTP,
		engine:   gin.New(),
		commands: deps.Commands,
		hub:      deps.Hub,
		accounts: deps.Accounts,
		history:  deps.History,
		metrics:  deps.Metrics,
		limiter:  newUserLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		logger:   logger.Named("http"),
	}
	s.engine.Use(gin.Recovery(), requestID(), requestLogger(s.logger, "/healthz", "/metrics"))
	s.routes(deps.Gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	s.engine.GET("/ws", gin.WrapF(s.hub.HandleConnection))

	v1 := s.engine.Group("/v1")
	v1.GET("/status", s.handleStatus)

	limited := v1.Group("", s.limiter.middleware())
	limited.POST("/sd", s.handleGenerate)
	limited.POST("/sdtag", s.handleInterrogate)
	limited.POST("/sdmodel", s.handleModels)
	limited.GET("/sdlist", s.handleList)
	limited.GET("/balance", s.handleBalance)

	admin := v1.Group("", adminOnly(s.cfg.AdminTokenHash, s.logger))
	admin.POST("/sdstop", s.handleStop)
	admin.POST("/sdset", s.handleSetOptions)
	admin.POST("/topup", s.handleTopUp)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured port until ctx is done, then shuts the
// listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.limiter.startCleanup(ctx, time.Minute)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("command API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// commandContext detaches a command from the HTTP request: a generation
// already dispatched runs to completion even if the caller disconnects.
func commandContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func userID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(HeaderUserID)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, commandResponse{
		RequestID: requestIDFrom(c),
		Message:   "invalid request body: " + err.Error(),
		Server:    -1,
	})
}

// respond writes res and publishes it on the notice stream.
func (s *Server) respond(c *gin.Context, res orchestrator.Result) {
	id := requestIDFrom(c)
	resp := commandResponse{
		RequestID:  id,
		Message:    res.Message,
		Image:      res.Image,
		MIME:       res.MIME,
		Suppressed: res.Suppressed,
		Server:     res.Server,
		Score:      res.Score,
		Tags:       res.Tags,
	}
	if len(res.Image) > 0 && c.Query("preview") == "true" {
		thumb, err := imageutil.Thumbnail(res.Image, previewSide)
		if err != nil {
			s.logger.Warn("preview failed", zap.String("request_id", id), zap.Error(err))
		} else {
			resp.Preview = thumb
		}
	}

	s.hub.Publish(NewWSMessage(MessageTypeResult, id, gin.H{
		"message":    res.Message,
		"server":     res.Server,
		"suppressed": res.Suppressed,
		"has_image":  len(res.Image) > 0,
	}))
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	opts := orchestrator.GenerateOptions{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Img2Img:        req.Img2Img,
		Steps:          req.Steps,
		CFGScale:       req.CFGScale,
		Size:           req.Size,
		Seed:           req.Seed,
		Sampler:        req.Sampler,
		Scheduler:      req.Scheduler,
		Server:         req.Server,
		NoPositiveTags: req.NoPositiveTags,
		NoNegativeTags: req.NoNegativeTags,
		NoRefiner:      req.NoRefiner,
		NoTranslate:    req.NoTranslate,
		Model:          req.Model,
		VAE:            req.VAE,
		UserID:         userID(c, req.UserID),
	}
	if len(req.QuotedImages) > 0 {
		opts.Quote = &orchestrator.Quote{Images: req.QuotedImages}
	}
	s.respond(c, s.commands.Generate(commandContext(c), requestIDFrom(c), opts))
}

func (s *Server) handleInterrogate(c *gin.Context) {
	var req interrogateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	opts := orchestrator.InterrogateOptions{
		Image:     req.Image,
		Model:     req.Model,
		Threshold: req.Threshold,
		Server:    req.Server,
		UserID:    userID(c, req.UserID),
	}
	if len(req.QuotedImages) > 0 {
		opts.Quote = &orchestrator.Quote{Images: req.QuotedImages}
	}
	s.respond(c, s.commands.Interrogate(commandContext(c), requestIDFrom(c), opts))
}

func (s *Server) handleStop(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.respond(c, s.commands.Stop(commandContext(c), requestIDFrom(c), req.Server))
}

func (s *Server) handleModels(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.respond(c, s.commands.Models(commandContext(c), requestIDFrom(c), orchestrator.ModelQuery{
		Server:  req.Server,
		Kind:    orchestrator.ModelKind(req.Kind),
		SDName:  req.SDName,
		VAEName: req.VAE,
	}))
}

func (s *Server) handleSetOptions(c *gin.Context) {
	var req struct {
		Server  *int            `json:"server"`
		Options json.RawMessage `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Options) == 0 {
		badRequest(c, errors.New("options are required"))
		return
	}
	s.respond(c, s.commands.SetOptions(commandContext(c), requestIDFrom(c), req.Server, req.Options))
}

func (s *Server) handleList(c *gin.Context) {
	s.respond(c, s.commands.List(c.Query("kind")))
}

func (s *Server) handleTopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if s.accounts == nil {
		s.respond(c, orchestrator.Result{Message: core.UserMessage("", core.ErrFeatureDisabled("billing")), Server: -1})
		return
	}
	balance, err := s.accounts.TopUp(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		s.logger.Warn("top up failed", zap.String("user", req.UserID), zap.Error(err))
		s.respond(c, orchestrator.Result{Message: core.UserMessage("top up failed", err), Server: -1})
		return
	}
	s.respond(c, orchestrator.Result{Message: "balance: " + strconv.FormatInt(balance, 10), Server: -1})
}

func (s *Server) handleBalance(c *gin.Context) {
	user := userID(c, c.Query("user_id"))
	if user == "" {
		badRequest(c, errors.New("user_id is required"))
		return
	}
	if s.accounts == nil {
		s.respond(c, orchestrator.Result{Message: core.UserMessage("", core.ErrFeatureDisabled("billing")), Server: -1})
		return
	}
	balance, err := s.accounts.Balance(c.Request.Context(), user)
	if err != nil {
		s.respond(c, orchestrator.Result{Message: core.UserMessage("balance query failed", err), Server: -1})
		return
	}
	s.respond(c, orchestrator.Result{Message: "balance: " + strconv.FormatInt(balance, 10), Server: -1})
}

// handleStatus reports live counters and the latest task history.
func (s *Server) handleStatus(c *gin.Context) {
	body := gin.H{"clients": s.hub.ClientCount()}
	if s.metrics != nil {
		body["metrics"] = s.metrics.Summary()
	}
	if s.history != nil {
		tasks, err := s.history.RecentTasks(c.Request.Context(), recentTaskLimit)
		if err != nil {
			s.logger.Error("read task history", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "task history unavailable"})
			return
		}
		body["recent"] = tasks
	}
	c.JSON(http.StatusOK, body)
}
