package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/manuel-valencia/lab-framework/internal/registry"
)

func GetListNodesRoute(s *Server) *echo.Route {
	return s.Router.APIV1.GET("/nodes", getListNodesHandler(s))
}

type listNodesResponse struct {
	Nodes []registry.Node `json:"nodes"`
	Total int             `json:"total"`
}

func getListNodesHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		nodes := s.Controller.Registry().List()

		if status := c.QueryParam("status"); status != "" {
			filtered := nodes[:0]
			for _, n := range nodes {
				if n.Status == status {
					filtered = append(filtered, n)
				}
			}
			nodes = filtered
		}

		return c.JSON(http.StatusOK, listNodesResponse{Nodes: nodes, Total: len(nodes)})
	}
}
