package server

import (
	"errors"

	"backend-helmwatch/internal/auth"
	"backend-helmwatch/internal/hazard"
	"backend-helmwatch/internal/position"
	"backend-helmwatch/internal/stream"
	"backend-helmwatch/internal/tracking"

	"github.com/gofiber/fiber/v2"
)

// providerErrors maps the error codes a location bridge may push.
var providerErrors = map[string]error{
	"permission_denied": position.ErrPermissionDenied,
	"unavailable":       position.ErrProviderUnavailable,
	"timeout":           position.ErrProviderTimeout,
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"tracking": s.Tracking.Interval().String(),
			"hazards":  s.Hazards.Catalog().Len(),
			"pending":  len(s.Outbox.Pending()),
		})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), s.Auth)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	hazard.RegisterRoutes(s.App.Group("/hazards"), s.Hazards, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)

	s.App.Get("/sync", jwtMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(s.Outbox.Pending())
	})

	if s.Push != nil {
		registerPushRoutes(s, jwtMiddleware)
	}
	if s.Battery != nil {
		s.App.Put("/power", jwtMiddleware, func(c *fiber.Ctx) error {
			var req struct {
				Fraction *float64 `json:"fraction"`
			}
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			if req.Fraction == nil {
				return fiber.NewError(fiber.StatusBadRequest, "fraction required")
			}
			s.Battery.Set(*req.Fraction)
			return c.JSON(fiber.Map{"fraction": s.Battery.Fraction()})
		})
	}
}

func registerPushRoutes(s *Server, authMiddleware fiber.Handler) {
	s.App.Post("/positions", authMiddleware, func(c *fiber.Ctx) error {
		var sample position.Sample
		if err := c.BodyParser(&sample); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if sample.Timestamp.IsZero() {
			return fiber.NewError(fiber.StatusBadRequest, "timestamp required")
		}
		if err := s.Push.Push(sample); err != nil {
			return pushError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"interval_ms": s.Push.Interval().Milliseconds()})
	})

	s.App.Post("/positions/errors", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Code string `json:"code"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		perr, ok := providerErrors[req.Code]
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "unknown error code")
		}
		if err := s.Push.PushError(perr); err != nil {
			return pushError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	s.App.Get("/positions/interval", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"interval_ms": s.Push.Interval().Milliseconds()})
	})
}

func pushError(err error) error {
	if errors.Is(err, position.ErrBufferFull) {
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	}
	return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
}
