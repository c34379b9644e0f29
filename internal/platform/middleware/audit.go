package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/careprograms/internal/platform/auth"
)

// Audit logs every access to a patient's program records: who, which
// patient, which program and month, and whether it was a read or a write.
// Requests outside /api/v1/patients pass through untouched.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/patients/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			rid, _ := c.Get("request_id").(string)
			ctx := req.Context()

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", rid).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("patient_id", c.Param("patientId")).
				Str("program", c.Param("program")).
				Str("month", c.Param("month")).
				Str("action", auditAction(req.Method)).
				Str("path", req.URL.Path).
				Int("status", status).
				Msg("patient_access")

			return err
		}
	}
}

func auditAction(method string) string {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return "write"
	default:
		return "read"
	}
}
