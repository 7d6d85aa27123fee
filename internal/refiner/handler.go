package refiner

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/refiner/internal/refiner/codeset"
	"github.com/ehr/refiner/internal/refiner/section"
)

// Handler provides the refine REST endpoints.
type Handler struct {
	refiner *Refiner
}

// NewHandler creates a new refine handler.
func NewHandler(r *Refiner) *Handler {
	return &Handler{refiner: r}
}

// RegisterRoutes registers refine routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/refine", h.Refine)
	api.GET("/sections", h.Sections)
}

type refineRequest struct {
	EICR         string   `json:"eicr"`
	RR           string   `json:"rr"`
	Jurisdiction string   `json:"jurisdiction"`
	Sections     []string `json:"sections,omitempty"`
	SearchScope  []string `json:"search_scope,omitempty"`
}

type refineResponse struct {
	Documents []RefinedDocument `json:"documents"`
}

type sectionsResponse struct {
	Jurisdiction string           `json:"jurisdiction,omitempty"`
	Sections     []section.Policy `json:"sections"`
}

// ErrorResponse is the JSON body of every refine API error.
type ErrorResponse struct {
	Error    string `json:"error"`
	Document string `json:"document,omitempty"`
	Field    string `json:"field,omitempty"`
	Section  string `json:"section,omitempty"`
	Code     string `json:"code,omitempty"`
}

// Refine handles POST /api/v1/refine.
func (h *Handler) Refine(c echo.Context) error {
	var req refineRequest
	if err := c.Bind(&req); err != nil {
		if tooLarge(err) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	docs, err := h.refiner.Refine(c.Request().Context(), Request{
		EICR:          req.EICR,
		RR:            req.RR,
		Jurisdiction:  req.Jurisdiction,
		ForceSections: req.Sections,
		Scope:         req.SearchScope,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, refineResponse{Documents: docs})
}

// Sections handles GET /api/v1/sections?jurisdiction=...
func (h *Handler) Sections(c echo.Context) error {
	jurisdiction := c.QueryParam("jurisdiction")
	table, err := h.refiner.SectionPolicies(c.Request().Context(), jurisdiction)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sectionsResponse{Jurisdiction: jurisdiction, Sections: table.Policies()})
}

// SectionPolicies returns the policy table the refiner applies for
// jurisdiction.
func (r *Refiner) SectionPolicies(ctx context.Context, jurisdiction string) (section.PolicyTable, error) {
	return r.lookup.SectionPolicies(ctx, jurisdiction)
}

func (h *Handler) writeError(c echo.Context, err error) error {
	var (
		dpe *DocumentParseError
		ive *codeset.InputValidationError
		cie *section.ConfigurationInconsistencyError
	)
	switch {
	case errors.As(err, &dpe):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: dpe.Error(), Document: dpe.Document})
	case errors.As(err, &ive):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: ive.Error(), Field: ive.Field})
	case errors.As(err, &cie):
		h.logError(c, err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: cie.Error(), Section: cie.Section, Code: cie.Code})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "refinement timed out"})
	case errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "request canceled"})
	}
	h.logError(c, err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

func (h *Handler) logError(c echo.Context, err error) {
	rid, _ := c.Get("request_id").(string)
	h.refiner.logger.Error().Err(err).
		Str("request_id", rid).
		Str("path", c.Request().URL.Path).
		Msg("refine request failed")
}

// tooLarge reports whether a bind error was caused by the body limit. The
// binder wraps the reader's error in its own 400.
func tooLarge(err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if he, ok := err.(*echo.HTTPError); ok && he.Code == http.StatusRequestEntityTooLarge {
			return true
		}
	}
	return false
}
