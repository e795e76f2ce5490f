package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetHealthRoute(s *Server) *echo.Route {
	return s.Router.Root.GET("/health", getHealthHandler(s))
}

func getHealthHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "online",
			"controller_id": s.Config.ClientID,
			"nodes":         len(s.Controller.Registry().List()),
		})
	}
}
