package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/manuel-valencia/lab-framework/internal/controller"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

func PostNodeCommandRoute(s *Server) *echo.Route {
	return s.Router.APIV1.POST("/nodes/:id/commands", postNodeCommandHandler(s))
}

type postCommandRequest struct {
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params"`
	SessionID string                 `json:"session_id"`

	// Wait makes the handler block for the node's response instead of
	// returning 202 right after the publish.
	Wait bool `json:"wait"`
}

type postCommandResponse struct {
	NodeID    string             `json:"node_id"`
	Command   string             `json:"command"`
	SessionID string             `json:"session_id"`
	Sent      bool               `json:"sent"`
	Response  *protocol.Response `json:"response,omitempty"`
}

func postNodeCommandHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		nodeID := c.Param("id")

		var req postCommandRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.Command == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "command is required")
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		err := s.Controller.SendCommand(nodeID, req.Command, req.Params, req.SessionID)
		switch {
		case errors.Is(err, controller.ErrNodeUnknown):
			return echo.NewHTTPError(http.StatusNotFound, "node not found")
		case errors.Is(err, controller.ErrUnknownCommand):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case err != nil:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}

		out := postCommandResponse{
			NodeID:    nodeID,
			Command:   req.Command,
			SessionID: req.SessionID,
			Sent:      true,
		}
		if !req.Wait {
			return c.JSON(http.StatusAccepted, out)
		}

		resp, err := s.Controller.WaitForResponse(nodeID)
		if err != nil {
			return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
		}
		out.Response = resp
		return c.JSON(http.StatusOK, out)
	}
}
