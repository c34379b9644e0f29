package careprogram

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/careprograms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patients := api.Group("/patients/:patientId")

	// Read endpoints – clinical staff and billing
	read := patients.Group("", auth.RequireRole(auth.RoleStaff, auth.RolePhysician, auth.RoleBilling))
	read.GET("/programs/:program/enrollment", h.GetEnrollment)
	read.GET("/programs/:program/months/:month/activity", h.GetActivity)
	read.GET("/programs/:program/months/:month/validation", h.ValidateMonth)
	read.GET("/billing/:month", h.GenerateBilling)

	// Write endpoints – clinical staff only
	write := patients.Group("", auth.RequireRole(auth.RoleStaff, auth.RolePhysician))
	write.POST("/programs/:program/enroll", h.Enroll)
	write.POST("/programs/:program/consent", h.Consent)
	write.POST("/programs/:program/setup", h.CompleteSetup)
	write.POST("/programs/:program/conditions", h.AddCondition)
	write.POST("/programs/:program/data-days", h.LogDataDay)
	write.POST("/programs/:program/time", h.LogTime)
}

type enrollRequest struct {
	DeviceType string `json:"device_type"`
}

type timestampRequest struct {
	At *time.Time `json:"at"`
}

type conditionRequest struct {
	Condition string `json:"condition"`
}

type dataDayRequest struct {
	Date string `json:"date"`
}

type timeLogRequest struct {
	Date    string `json:"date"`
	Minutes int    `json:"minutes"`
	Role    string `json:"role"`
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrWrongProgram):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func programParam(c echo.Context) (Program, error) {
	return ParseProgram(c.Param("program"))
}

func (h *Handler) Enroll(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	var req enrollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enr, err := h.svc.Enroll(c.Request().Context(), c.Param("patientId"), program, req.DeviceType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enr.View())
}

func (h *Handler) Consent(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	var req timestampRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enr, err := h.svc.Consent(c.Request().Context(), c.Param("patientId"), program, req.At)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enr.View())
}

func (h *Handler) CompleteSetup(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	if err := requireProgram(program, ProgramRPM); err != nil {
		return httpError(err)
	}
	var req timestampRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enr, err := h.svc.CompleteSetup(c.Request().Context(), c.Param("patientId"), req.At)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enr.View())
}

func (h *Handler) AddCondition(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	if err := requireProgram(program, ProgramCCM); err != nil {
		return httpError(err)
	}
	var req conditionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enr, err := h.svc.AddCondition(c.Request().Context(), c.Param("patientId"), req.Condition)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enr.View())
}

func (h *Handler) LogDataDay(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	if err := requireProgram(program, ProgramRPM); err != nil {
		return httpError(err)
	}
	var req dataDayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	act, err := h.svc.LogDataDay(c.Request().Context(), c.Param("patientId"), req.Date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, act.View())
}

func (h *Handler) LogTime(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	var req timeLogRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return httpError(err)
	}
	act, err := h.svc.LogTime(c.Request().Context(), c.Param("patientId"), program, req.Date, req.Minutes, role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, act.View())
}

func (h *Handler) ValidateMonth(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	res, err := h.svc.ValidateMonth(c.Request().Context(), c.Param("patientId"), program, c.Param("month"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GenerateBilling(c echo.Context) error {
	summary, err := h.svc.GenerateBilling(c.Request().Context(), c.Param("patientId"), c.Param("month"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetEnrollment(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	enr, err := h.svc.GetEnrollment(c.Request().Context(), c.Param("patientId"), program)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enr.View())
}

func (h *Handler) GetActivity(c echo.Context) error {
	program, err := programParam(c)
	if err != nil {
		return httpError(err)
	}
	act, err := h.svc.GetActivity(c.Request().Context(), c.Param("patientId"), program, c.Param("month"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, act.View())
}
