package routes

import (
	"time"

	"dsuauth/api/handler"
	"dsuauth/api/middleware"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo         *echo.Echo
	Verify       *handler.VerifyHandler
	APIKey       middleware.APIKeyMiddleware
	CallbackRate *middleware.RateLimiter
	GatewayRate  *middleware.RateLimiter
}

func NewRouter(e *echo.Echo, verifyHandler *handler.VerifyHandler, apiKey middleware.APIKeyMiddleware) *Router {
	return &Router{
		Echo:         e,
		Verify:       verifyHandler,
		APIKey:       apiKey,
		CallbackRate: middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
		GatewayRate: middleware.NewRateLimiterWithKey(rate.Limit(2), 4, 10*time.Minute, func(c echo.Context) string {
			return c.Request().Header.Get("X-User-Id")
		}),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo

	e.GET("/healthz", r.Verify.Healthz)
	// Catch-all: the provider redirect may land on any path.
	e.GET("/*", r.Verify.Callback, r.CallbackRate.Middleware())

	gateway := e.Group("/gateway", r.APIKey.Require)
	gateway.POST("/start", r.Verify.Start, r.GatewayRate.Middleware())
	gateway.POST("/sighting", r.Verify.Sighting)
	gateway.POST("/email-code/request", r.Verify.RequestEmailCode, r.GatewayRate.Middleware())
	gateway.POST("/email-code/verify", r.Verify.VerifyEmailCode, r.GatewayRate.Middleware())
	gateway.POST("/lab-username", r.Verify.SetLabUsername)
	gateway.GET("/users", r.Verify.ListUsers)
	gateway.GET("/users/:id", r.Verify.GetUser)

	e.POST("/admin/reload-config", r.Verify.ReloadConfig, r.APIKey.Require)
}
