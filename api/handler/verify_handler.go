package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"dsuauth/internal/dto"
	"dsuauth/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var codePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

const (
	callbackMsgBadRequest = "Invalid request."
	callbackMsgRejected   = "Invalid or expired code."
	callbackMsgError      = "Could not process request."
)

// Minimal page rendered to the redirected browser; the status message goes
// in the h1.
const callbackPage = `<!DOCTYPE html>
<html lang="en">
<head>
<title>DSU Verification</title>
<style>
body { background: #004165; }
.center { position: absolute; left: 50%%; top: 30%%; transform: translate(-50%%, -50%%); text-align: center; color: #ffffff; }
#main { background: #adafaf; border-radius: 10px; padding: 15px; }
</style>
</head>
<body>
<div class="center" id="main"><h1>%s</h1></div>
</body>
</html>`

type Reloader interface {
	Reload() error
}

type VerifyHandler struct {
	Service    *service.VerifyService
	Validate   *validator.Validate
	RoleConfig Reloader
}

func NewVerifyHandler(svc *service.VerifyService, validate *validator.Validate, roleConfig Reloader) *VerifyHandler {
	_ = validate.RegisterValidation("oauthcode", func(fl validator.FieldLevel) bool {
		return codePattern.MatchString(fl.Field().String())
	})
	return &VerifyHandler{
		Service:    svc,
		Validate:   validate,
		RoleConfig: roleConfig,
	}
}

// Callback is the front door for the identity provider's redirect. It holds
// no state of its own; every request stands alone.
func (h *VerifyHandler) Callback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")

	if h.Validate.Var(code, "required,oauthcode") != nil ||
		h.Validate.Var(state, "required,len=16,alphanum") != nil {
		return renderPage(c, http.StatusBadRequest, callbackMsgBadRequest)
	}

	message, err := h.Service.Verify(c.Request().Context(), state, code)
	switch {
	case err == nil:
		return renderPage(c, http.StatusOK, message)
	case errors.Is(err, service.ErrInvalidSession):
		return renderPage(c, http.StatusBadRequest, callbackMsgRejected)
	default:
		c.Logger().Error(err)
		return renderPage(c, http.StatusInternalServerError, callbackMsgError)
	}
}

func (h *VerifyHandler) Start(c echo.Context) error {
	var req dto.StartRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	url, err := h.Service.Start(c.Request().Context(), req.UserID, req.DisplayTag)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.StartResponse{URL: url})
}

func (h *VerifyHandler) Sighting(c echo.Context) error {
	var req dto.SightingRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.RecordSighting(c.Request().Context(), req.UserID, req.DisplayTag); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *VerifyHandler) RequestEmailCode(c echo.Context) error {
	var req dto.EmailCodeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	requestID, err := h.Service.RequestEmailCode(c.Request().Context(), req.UserID, req.DisplayTag, req.Email)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.EmailCodeResponse{RequestID: requestID})
}

func (h *VerifyHandler) VerifyEmailCode(c echo.Context) error {
	var req dto.EmailCodeVerifyRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	message, err := h.Service.VerifyEmailCode(c.Request().Context(), req.UserID, req.Code)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.StatusResponse{Message: message})
}

func (h *VerifyHandler) SetLabUsername(c echo.Context) error {
	var req dto.LabUsernameRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.SetLabUsername(c.Request().Context(), req.UserID, req.Username); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *VerifyHandler) GetUser(c echo.Context) error {
	userID := c.Param("id")
	if h.Validate.Var(userID, "required,numeric,max=20") != nil {
		return writeError(c, http.StatusBadRequest, service.ErrInvalidInput)
	}
	user, err := h.Service.GetUser(c.Request().Context(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user))
}

func (h *VerifyHandler) ListUsers(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.Service.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponsesFromEntities(users))
}

func (h *VerifyHandler) ReloadConfig(c echo.Context) error {
	if h.RoleConfig == nil {
		return writeError(c, http.StatusFailedDependency, service.ErrNotConfigured)
	}
	if err := h.RoleConfig.Reload(); err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *VerifyHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *VerifyHandler) validate(value any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(value)
}

func renderPage(c echo.Context, status int, message string) error {
	return c.HTML(status, fmt.Sprintf(callbackPage, message))
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"message": err.Error()})
}

func writeServiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrEmailNotEligible):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidSession), errors.Is(err, service.ErrInvalidEmailCode), errors.Is(err, service.ErrUnknownLabUser):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrEmailThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrNotConfigured):
		status = http.StatusFailedDependency
	case errors.Is(err, service.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	return writeError(c, status, err)
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}
