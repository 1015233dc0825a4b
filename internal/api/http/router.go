package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-management/internal/api/http/handlers"
	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Auth           *handlers.AuthHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Public routes are registered before the
// authentication gate of their group.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	gate := cfg.AuthMiddleware
	readers := auth.RequireRoles(domain.RoleAdmin, domain.RoleManager)
	admins := auth.RequireRoles(domain.RoleAdmin)

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", gate.Handle, admins, cfg.Metrics.Snapshot)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/validate", cfg.Auth.Validate)
	authGroup.Post("/forgot-password", cfg.Auth.ForgotPassword)
	authGroup.Post("/reset-password", cfg.Auth.ResetPassword)
	authGroup.Post("/refresh", gate.Handle, auth.WithPrincipal(cfg.Auth.Refresh))
	authGroup.Post("/logout", gate.Handle, auth.WithPrincipal(cfg.Auth.Logout))
	authGroup.Get("/me", gate.Handle, auth.WithPrincipal(cfg.Auth.Me))

	users := api.Group("/users")
	users.Get("/health", cfg.Users.Health)
	users.Post("/", gate.Optional, auth.WithOptionalPrincipal(cfg.Users.Create))

	protected := users.Group("", gate.Handle)
	protected.Get("/", readers, auth.WithPrincipal(cfg.Users.List))
	protected.Get("/all", readers, auth.WithPrincipal(cfg.Users.All))
	protected.Get("/search", readers, auth.WithPrincipal(cfg.Users.Search))
	protected.Get("/stats", readers, auth.WithPrincipal(cfg.Users.Stats))
	protected.Get("/role/:role", readers, auth.WithPrincipal(cfg.Users.ByRole))
	protected.Get("/username/:username", auth.WithPrincipal(cfg.Users.GetByUsername))
	protected.Post("/change-password", auth.WithPrincipal(cfg.Users.ChangePassword))
	protected.Get("/:id", auth.WithPrincipal(cfg.Users.Get))
	protected.Put("/:id", auth.WithPrincipal(cfg.Users.Update))
	protected.Delete("/:id", admins, auth.WithPrincipal(cfg.Users.Delete))
	protected.Patch("/:id/activate", admins, auth.WithPrincipal(cfg.Users.Activate))
	protected.Patch("/:id/deactivate", admins, auth.WithPrincipal(cfg.Users.Deactivate))
}
