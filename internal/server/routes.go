package server

import (
	"net/http"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	response, ok := res.(domain.ActorHealthResponse)
	if !ok {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response.Healthy {
		return c.String(http.StatusOK, "health_check: OK "+response.State)
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL "+response.State)
}
