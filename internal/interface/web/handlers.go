package web

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gimlee/settlement/internal/core/application"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/interface/web/types"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c *gin.Context) {
	jobs := s.svc.Jobs()
	res := types.Health{Status: "ok", Jobs: make([]types.Job, 0, len(jobs))}
	for _, j := range jobs {
		res.Jobs = append(res.Jobs, types.NewJob(j))
	}

	if !s.svc.IsReady() {
		res.Status = "starting"
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) convert(c *gin.Context) {
	rawAmount := strings.TrimSpace(c.Query("amount"))
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil || amount.IsNegative() {
		badRequest(c, "amount must be a non negative decimal")
		return
	}
	from, err := domain.ParseCurrency(c.Query("from"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := domain.ParseCurrency(c.Query("to"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := s.svc.Convert(c.Request.Context(), amount, from, to)
	if err != nil {
		var convErr *application.ConversionError
		if errors.As(err, &convErr) {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{err.Error()})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewConversion(rawAmount, *res))
}

func (s *Server) volatility(c *gin.Context) {
	states := s.svc.VolatilityStates()
	res := make([]types.VolatilityState, 0, len(states))
	for _, st := range states {
		res = append(res, types.NewVolatilityState(st))
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) payment(c *gin.Context) {
	payment, err := s.svc.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{err.Error()})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewPayment(*payment))
}

func (s *Server) rates(c *gin.Context) {
	rates, err := s.svc.LatestRates(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	sort.Slice(rates, func(i, j int) bool {
		return rates[i].Pair().String() < rates[j].Pair().String()
	})
	res := make([]types.ExchangeRate, 0, len(rates))
	for _, r := range rates {
		res = append(res, types.NewExchangeRate(r))
	}
	c.JSON(http.StatusOK, res)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{msg})
}

func internalError(c *gin.Context, err error) {
	// nolint:errcheck
	c.Error(err)
	c.JSON(http.StatusInternalServerError, errorResponse{"internal error"})
}
