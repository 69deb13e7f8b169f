package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/rewired-gh/netliquidity/internal/logger"
	"github.com/rewired-gh/netliquidity/internal/models"
)

var validate = validator.New()

// Handler implements the snapshot endpoints.
type Handler struct {
	snaps   SnapshotSource
	history HistorySource
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/snapshot", h.Snapshot)
	g.GET("/history", h.History)
	g.GET("/nodes/:role", h.Node)
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryRequest is the query of GET /api/history.
type HistoryRequest struct {
	Limit int `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

// NodeRequest is the path of GET /api/nodes/:role.
type NodeRequest struct {
	Role string `param:"role" validate:"required"`
}

func (h *Handler) Health(c echo.Context) error {
	status := "ok"
	if h.snaps.Latest() == nil {
		status = "warming_up"
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) Snapshot(c echo.Context) error {
	snap := h.snaps.Latest()
	if snap == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no snapshot available yet"})
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) History(c echo.Context) error {
	req := &HistoryRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	points, err := h.history.History(req.Limit)
	if err != nil {
		logger.Error("History query failed: %v", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "history unavailable"})
	}
	return c.JSON(http.StatusOK, points)
}

func (h *Handler) Node(c echo.Context) error {
	req := &NodeRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	role := models.Role(req.Role)
	if !role.Valid() {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("unknown role %q", req.Role)})
	}
	snap := h.snaps.Latest()
	if snap == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no snapshot available yet"})
	}
	node, ok := snap.Nodes[role]
	if !ok {
		msg := "node not available"
		if reason, failed := snap.Failures[role]; failed {
			msg = reason
		}
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: msg})
	}
	return c.JSON(http.StatusOK, node)
}

// bindAndValidate binds path and query parameters, fills defaults and
// validates the result.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return fmt.Errorf("%v", he.Message)
		}
		return err
	}
	if err := defaults.Set(req); err != nil {
		return err
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s%s", strings.ToLower(fe.Field()), fe.Tag(), param(fe)))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func param(fe validator.FieldError) string {
	if fe.Param() == "" {
		return ""
	}
	return "=" + fe.Param()
}

// jsonSerializer encodes responses with goccy/go-json.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
