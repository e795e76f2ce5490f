package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetNodeRoute(s *Server) *echo.Route {
	return s.Router.APIV1.GET("/nodes/:id", getNodeHandler(s))
}

func getNodeHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		node, ok := s.Controller.Registry().Get(c.Param("id"))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "node not found")
		}
		return c.JSON(http.StatusOK, node)
	}
}
