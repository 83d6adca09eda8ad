// Package web serves the confirmation screen over HTTP.
package web

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/services/orchestrator"
	"github.com/vadiminshakov/txconfirm/internal/storage/submissions"
)

const statePollInterval = 250 * time.Millisecond

// Screen confirmation screen driven over HTTP.
type Screen interface {
	State() orchestrator.ViewState
	SetAmount(amount decimal.Decimal) error
	SetPercent(pct decimal.Decimal) error
	SetTarget(target string) error
	SetTip(tip decimal.Decimal) error
	Confirm() error
	Retry() error
}

type intentReader interface {
	Intents() []submissions.Intent
}

// Server exposes the screen state, its SSE stream, input endpoints and metrics.
type Server struct {
	Addr     string
	Screen   Screen
	Journal  intentReader
	Gatherer prometheus.Gatherer

	l            *zap.Logger
	pollInterval time.Duration
}

// NewServer creates a new web server instance. journal and gatherer may be nil.
func NewServer(l *zap.Logger, addr string, screen Screen, journal intentReader, gatherer prometheus.Gatherer) *Server {
	return &Server{
		Addr:         addr,
		Screen:       screen,
		Journal:      journal,
		Gatherer:     gatherer,
		l:            l.With(zap.String("component", "web")),
		pollInterval: statePollInterval,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/state", s.handleState)
	r.GET("/state/stream", s.handleStateStream)
	r.POST("/amount", s.handleAmount)
	r.POST("/target", s.handleTarget)
	r.POST("/tip", s.handleTip)
	r.POST("/confirm", s.handleConfirm)
	r.POST("/retry", s.handleRetry)
	r.GET("/submissions", s.handleSubmissions)
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

type amountRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	Percent *decimal.Decimal `json:"percent"`
}

type targetRequest struct {
	Target string `json:"target"`
}

type tipRequest struct {
	Tip decimal.Decimal `json:"tip"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Validator string `json:"validator,omitempty"`
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Screen.State())
}

func (s *Server) handleStateStream(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	var (
		last streamKey
		sent bool
	)
	send := func() {
		state := s.Screen.State()
		key := viewKey(state)
		if sent && key == last {
			return
		}
		c.SSEvent("state", state)
		last, sent = key, true
	}

	c.Stream(func(io.Writer) bool {
		if !sent {
			send()
			return true
		}
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			_, _ = c.Writer.WriteString(": ping\n\n")
		case <-poll.C:
			send()
		}
		return true
	})
}

func (s *Server) handleAmount(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var err error
	switch {
	case req.Amount != nil && req.Percent != nil:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "either amount or percent must be set"})
		return
	case req.Amount != nil:
		err = s.Screen.SetAmount(*req.Amount)
	case req.Percent != nil:
		err = s.Screen.SetPercent(*req.Percent)
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "amount or percent is required"})
		return
	}
	s.respond(c, err, http.StatusOK)
}

func (s *Server) handleTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.respond(c, s.Screen.SetTarget(req.Target), http.StatusOK)
}

func (s *Server) handleTip(c *gin.Context) {
	var req tipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.respond(c, s.Screen.SetTip(req.Tip), http.StatusOK)
}

func (s *Server) handleConfirm(c *gin.Context) {
	s.respond(c, s.Screen.Confirm(), http.StatusAccepted)
}

func (s *Server) handleRetry(c *gin.Context) {
	s.respond(c, s.Screen.Retry(), http.StatusAccepted)
}

func (s *Server) handleSubmissions(c *gin.Context) {
	if s.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "submission journal not available"})
		return
	}
	c.JSON(http.StatusOK, s.Journal.Intents())
}

// respond writes the screen state on success and maps screen errors to status codes.
func (s *Server) respond(c *gin.Context, err error, okStatus int) {
	if err == nil {
		c.JSON(okStatus, s.Screen.State())
		return
	}

	var vf *domain.ValidationFailure
	switch {
	case errors.As(err, &vf):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: vf.Reason, Validator: vf.Validator})
	case errors.Is(err, domain.ErrSubmissionInProgress), errors.Is(err, domain.ErrScreenDone):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrScreenClosed):
		c.JSON(http.StatusGone, errorResponse{Error: err.Error()})
	default:
		s.l.Debug("screen rejected input", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
}

// streamKey fields that identify a distinct view state for the stream.
type streamKey struct {
	Phase      orchestrator.Phase
	Epoch      uint64
	Amount     string
	AmountFiat string
	Fee        string
	FeeFiat    string
	Balance    string
	Utility    string
	Errors     string
	TxHash     string
}

func viewKey(v orchestrator.ViewState) streamKey {
	return streamKey{
		Phase:      v.Phase,
		Epoch:      v.Epoch,
		Amount:     v.Amount.String(),
		AmountFiat: nullString(v.AmountFiat),
		Fee:        nullString(v.Fee),
		FeeFiat:    nullString(v.FeeFiat),
		Balance:    nullString(v.Balance),
		Utility:    nullString(v.UtilityBalance),
		Errors:     v.FeeError + "|" + v.BalanceError + "|" + v.PriceError + "|" + v.ValidationError + "|" + v.SubmissionError,
		TxHash:     v.TxHash,
	}
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
