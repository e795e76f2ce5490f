// Package api exposes the controller's fleet view and command entry
// point over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/controller"
)

type Router struct {
	Routes []*echo.Route
	Root   *echo.Group
	APIV1  *echo.Group
}

// Server keeps the HTTP surface and its dependencies together.
type Server struct {
	Echo       *echo.Echo
	Router     *Router
	Config     config.Controller
	Controller *controller.Service
}

// NewServer wires the HTTP server over a running controller service.
func NewServer(cfg config.Controller, ctrl *controller.Service) *Server {
	s := &Server{
		Config:     cfg,
		Controller: ctrl,
	}
	s.initRouter()
	return s
}

func (s *Server) initRouter() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("Request handled")
			return nil
		},
	}))

	s.Echo = e
	s.Router = &Router{
		Root:  e.Group(""),
		APIV1: e.Group("/api/v1"),
	}
	s.Router.Routes = []*echo.Route{
		GetHealthRoute(s),
		GetListNodesRoute(s),
		GetNodeRoute(s),
		PostNodeCommandRoute(s),
	}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("bind", s.Config.APIBind).Msg("HTTP API listening")
	if err := s.Echo.Start(s.Config.APIBind); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http api")
	}
	return nil
}

// Shutdown drains in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Warn().Msg("Shutting down HTTP API")
	return s.Echo.Shutdown(ctx)
}
