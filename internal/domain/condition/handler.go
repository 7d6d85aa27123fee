package condition

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler provides read-only REST endpoints for condition configuration.
type Handler struct {
	svc *Service
}

// NewHandler creates a new condition handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers condition routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/conditions")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// List handles GET /api/v1/conditions. With ?trigger=a,b it returns only
// the conditions those trigger codes select.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	if q := c.QueryParam("trigger"); q != "" {
		var codes []string
		for _, code := range strings.Split(q, ",") {
			if code = strings.TrimSpace(code); code != "" {
				codes = append(codes, code)
			}
		}
		conds, err := h.svc.ConditionsByTriggerCodes(ctx, c.QueryParam("jurisdiction"), codes)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "condition lookup failed").SetInternal(err)
		}
		return c.JSON(http.StatusOK, nonNil(conds))
	}

	conds, err := h.svc.List(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "condition lookup failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, nonNil(conds))
}

// Get handles GET /api/v1/conditions/:id.
func (h *Handler) Get(c echo.Context) error {
	cond, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "condition not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "condition lookup failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, cond)
}

func nonNil(conds []Condition) []Condition {
	if conds == nil {
		return []Condition{}
	}
	return conds
}
