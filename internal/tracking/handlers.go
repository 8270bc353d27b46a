package tracking

import (
	"errors"

	"backend-helmwatch/internal/storage"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, e *Engine, authMiddleware fiber.Handler) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		var meta Metadata
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&meta); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		t, err := e.Start(c.Context(), meta)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(t)
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Save *bool `json:"save"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		save := req.Save == nil || *req.Save
		id, err := e.Stop(c.Context(), save)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"track_id": id, "saved": save})
	})

	r.Post("/waypoints", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Note string `json:"note"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		wp, err := e.AddWaypoint(c.Context(), req.Note)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(wp)
	})

	r.Get("/active", func(c *fiber.Ctx) error {
		t, ok := e.Active()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, ErrNoActiveTrack.Error())
		}
		return c.JSON(t)
	})

	r.Get("/tracks", func(c *fiber.Ctx) error {
		summaries, err := e.Tracks(c.Context())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summaries)
	})

	r.Get("/tracks/:id", func(c *fiber.Ctx) error {
		t, err := e.Track(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(t)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrNoActiveTrack):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
