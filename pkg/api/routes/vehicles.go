package routes

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/database"
	"github.com/travigo/sytral-relay/pkg/vehiclecache"
)

const maxListLimit = 1000

type LatestBatchSource interface {
	Latest(ctx context.Context) (ctdf.VehicleBatch, error)
}

func VehiclesRouter(router fiber.Router, store database.DataStore, latest LatestBatchSource) {
	router.Get("/", listVehicles(store))
	router.Get("/latest", getLatestBatch(latest))
	router.Get("/:identifier", getVehicle(store))
}

func listVehicles(store database.DataStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := int64(database.DefaultListLimit)

		if limitQuery := c.Query("limit"); limitQuery != "" {
			parsedLimit, err := strconv.ParseInt(limitQuery, 10, 64)
			if err != nil || parsedLimit < 1 {
				c.SendStatus(fiber.StatusBadRequest)
				return c.JSON(fiber.Map{
					"error": "limit must be a positive integer",
				})
			}
			limit = min(parsedLimit, maxListLimit)
		}

		events, err := store.List(c.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list vehicle location events")
			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": "Could not list vehicle location events",
			})
		}

		if events == nil {
			events = []*ctdf.VehicleLocationEvent{}
		}

		return c.JSON(events)
	}
}

func getVehicle(store database.DataStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := c.Params("identifier")

		event, err := store.FindByID(c.Context(), identifier)
		if errors.Is(err, database.ErrNotFound) {
			c.SendStatus(fiber.StatusNotFound)
			return c.JSON(fiber.Map{
				"error": "Could not find Vehicle Location Event matching Identifier",
			})
		} else if err != nil {
			log.Error().Err(err).Str("id", identifier).Msg("Failed to find vehicle location event")
			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(event)
	}
}

func getLatestBatch(latest LatestBatchSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if latest == nil {
			c.SendStatus(fiber.StatusServiceUnavailable)
			return c.JSON(fiber.Map{
				"error": "Latest batch cache is not configured",
			})
		}

		batch, err := latest.Latest(c.Context())
		if errors.Is(err, vehiclecache.ErrNoBatch) {
			c.SendStatus(fiber.StatusNotFound)
			return c.JSON(fiber.Map{
				"error": err.Error(),
			})
		} else if err != nil {
			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"msg_type": ctdf.MsgTypeSytral,
			"message":  batch,
		})
	}
}
