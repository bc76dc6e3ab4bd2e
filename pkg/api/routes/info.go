package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/database"
)

func InfoRouter(router fiber.Router, store database.DataStore, broker config.BrokerConfig) {
	router.Get("/info", getInfo(store))
	router.Get("/parameters", getParameters(broker))
}

func getInfo(store database.DataStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count, err := store.Count(c.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to count vehicle location events")
			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": "Could not count vehicle location events",
			})
		}

		return c.JSON(fiber.Map{
			"nb": count,
		})
	}
}

func getParameters(broker config.BrokerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"driver":  broker.Driver,
			"address": broker.Address,
			"topic":   broker.Topic,
			"group":   broker.Group,
		})
	}
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// StatusSource exposes live process state for the health endpoint
type StatusSource interface {
	Status() map[string]interface{}
}

func HealthRouter(router fiber.Router, checks map[string]HealthCheck, status StatusSource) {
	router.Get("/health", getHealth(checks, status))
}

func getHealth(checks map[string]HealthCheck, status StatusSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		results := map[string]string{}
		healthy := true

		type checkResult struct {
			name string
			err  error
		}
		checkPool := pool.NewWithResults[checkResult]().WithContext(ctx)
		for name, check := range checks {
			name, check := name, check
			checkPool.Go(func(ctx context.Context) (checkResult, error) {
				return checkResult{name: name, err: check(ctx)}, nil
			})
		}
		checked, _ := checkPool.Wait()

		for _, result := range checked {
			if result.err != nil {
				healthy = false
				results[result.name] = result.err.Error()
			} else {
				results[result.name] = "ok"
			}
		}

		response := fiber.Map{
			"healthy": healthy,
			"checks":  results,
		}
		if status != nil {
			for key, value := range status.Status() {
				response[key] = value
			}
		}

		if !healthy {
			c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(response)
	}
}
