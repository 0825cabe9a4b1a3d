package prescription

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/service/prescription"
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
	"github.com/jwalitptl/rx-portal/pkg/httputil"
)

type Handler struct {
	service prescription.PrescriptionService
}

func NewHandler(service prescription.PrescriptionService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter, mw ...gin.HandlerFunc) {
	prescriptions := r.Group("/prescriptions", mw...)
	{
		prescriptions.GET("", h.ListPrescriptions)
		prescriptions.GET("/:id", h.GetPrescription)
		prescriptions.POST("/:id/refill", h.RequestRefill)
	}
}

// ListPrescriptions serves GET /prescriptions?search=&status=
func (h *Handler) ListPrescriptions(c *gin.Context) {
	var filters model.PrescriptionListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	items, err := h.service.ListPrescriptions(c.Request.Context(), &filters)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, items)
}

func (h *Handler) GetPrescription(c *gin.Context) {
	p, err := h.service.GetPrescription(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) RequestRefill(c *gin.Context) {
	resp, err := h.service.RequestRefill(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, resp)
}

// bindError leaves validator errors for the validation middleware and turns
// anything else into a 400.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	return apperrors.BadRequest("invalid query parameters", err)
}
