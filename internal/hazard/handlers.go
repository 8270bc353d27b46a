package hazard

import (
	"errors"

	"backend-helmwatch/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, m *Monitor, authMiddleware fiber.Handler) {
	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(m.Catalog().Snapshot())
	})

	r.Get("/nearby", func(c *fiber.Ctx) error {
		lat := c.QueryFloat("lat", 999)
		lng := c.QueryFloat("lng", 999)
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		radius := c.QueryFloat("radius_km", 1)
		if radius <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "radius_km must be positive")
		}
		nearby := m.Catalog().Nearby(lat, lng, radius)
		if nearby == nil {
			nearby = []Nearby{}
		}
		return c.JSON(nearby)
	})

	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req Report
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.ReportedBy == "" {
			req.ReportedBy = auth.DeviceID(c)
		}
		h, err := m.ReportHazard(c.Context(), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(h)
	})

	r.Post("/refresh", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.RefreshCatalog(c.Context()); err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"count": m.Catalog().Len()})
	})

	r.Post("/:id/confirm", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			ConfirmedBy string `json:"confirmed_by"`
		}
		_ = c.BodyParser(&req)
		if req.ConfirmedBy == "" {
			req.ConfirmedBy = auth.DeviceID(c)
		}
		h, err := m.ConfirmHazard(c.Context(), c.Params("id"), req.ConfirmedBy)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(h)
	})

	r.Post("/:id/passed", authMiddleware, func(c *fiber.Ctx) error {
		h, err := m.MarkPassedSafely(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(h)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrHazardNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateVerification):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidReport):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCatalogRefreshFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
