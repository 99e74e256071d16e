package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gimlee/settlement/internal/core/application"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// SettlementService is the read side of the engine served over http.
type SettlementService interface {
	IsReady() bool
	Jobs() []ports.JobInfo
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to domain.Currency) (*application.ConversionResult, error)
	VolatilityStates() []application.VolatilityState
	LatestRates(ctx context.Context) ([]domain.ExchangeRate, error)
}

type Server struct {
	svc    SettlementService
	router *gin.Engine
	server *http.Server
}

func NewServer(svc SettlementService, port uint32) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LogMiddleware(), SentryMiddleware())

	s := &Server{svc: svc, router: router}
	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      router,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)

	v1 := s.router.Group("/v1")
	v1.GET("/convert", s.convert)
	v1.GET("/volatility", s.volatility)
	v1.GET("/payments/:id", s.payment)
	v1.GET("/rates", s.rates)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	log.Infof("http server listening on %s", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
