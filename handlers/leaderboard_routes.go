// handlers/leaderboard_routes.go
package handlers

import (
	"strconv"

	"affiliate-leaderboard/services"
	"affiliate-leaderboard/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

const maxRunsPage = 100

func SetupLeaderboardRoutes(app *fiber.App, leaderboard *services.LeaderboardService, scheduler *services.SyncScheduler, runs *services.SyncRunStore) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "OK", "sources": scheduler.Sources()})
	})

	api := app.Group("/api/:source")

	// GET /api/:source/leaderboard?from=&to=&limit=
	api.Get("/leaderboard", func(c *fiber.Ctx) error {
		filter, err := parseFilter(c)
		if err != nil {
			return respondError(c, err)
		}
		limit, err := intQuery(c, "limit", leaderboard.DefaultLimit())
		if err != nil {
			return respondError(c, err)
		}

		records, err := leaderboard.Query(c.UserContext(), c.Params("source"), filter, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(records)
	})

	// GET /api/:source/referrals?minXp=&maxXp=&limit=
	api.Get("/referrals", func(c *fiber.Ctx) error {
		var filter services.ReferralFilter
		var err error
		if filter.MinXP, err = floatQuery(c, "minXp"); err != nil {
			return respondError(c, err)
		}
		if filter.MaxXP, err = floatQuery(c, "maxXp"); err != nil {
			return respondError(c, err)
		}
		limit, err := intQuery(c, "limit", services.MaxLeaderboardLimit)
		if err != nil {
			return respondError(c, err)
		}

		records, err := leaderboard.Referrals(c.UserContext(), c.Params("source"), filter, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(records)
	})

	// Manual refresh; same single-flight rule as the timer.
	api.Post("/refresh", func(c *fiber.Ctx) error {
		source := c.Params("source")
		report, err := scheduler.Trigger(c.UserContext(), source)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": source + " data refreshed",
			"report":  report,
		})
	})

	api.Get("/status", func(c *fiber.Ctx) error {
		status, err := scheduler.Status(c.Params("source"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(status)
	})

	api.Get("/runs", func(c *fiber.Ctx) error {
		source := c.Params("source")
		if _, err := scheduler.Status(source); err != nil {
			return respondError(c, err)
		}
		limit, err := intQuery(c, "limit", 20)
		if err != nil {
			return respondError(c, err)
		}
		if limit < 1 || limit > maxRunsPage {
			return respondError(c, &services.ValidationError{Field: "limit", Message: "must be between 1 and 100"})
		}
		list, err := runs.RecentRuns(c.UserContext(), source, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(list)
	})
}

// parseFilter reads from/to, accepting the minTime/maxTime names older
// frontends send.
func parseFilter(c *fiber.Ctx) (services.LeaderboardFilter, error) {
	var f services.LeaderboardFilter
	var err error
	if f.From, err = millisQuery(c, "from", "minTime"); err != nil {
		return f, err
	}
	if f.To, err = millisQuery(c, "to", "maxTime"); err != nil {
		return f, err
	}
	return f, nil
}

func millisQuery(c *fiber.Ctx, names ...string) (*int64, error) {
	for _, name := range names {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &services.ValidationError{Field: name, Message: "must be epoch milliseconds"}
		}
		return &v, nil
	}
	return nil, nil
}

func floatQuery(c *fiber.Ctx, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &services.ValidationError{Field: name, Message: "must be a number"}
	}
	return &v, nil
}

func intQuery(c *fiber.Ctx, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &services.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return v, nil
}

func respondError(c *fiber.Ctx, err error) error {
	var (
		verr *services.ValidationError
		ferr *workers.FetchError
		serr *services.StoreError
	)
	switch {
	case errors.Is(err, services.ErrSyncInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &verr):
		status := fiber.StatusBadRequest
		if verr.Field == "source" {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"error": verr.Error()})
	case errors.As(err, &ferr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "partner feed unavailable",
			"cause": ferr.Error(),
		})
	case errors.As(err, &serr):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "store unavailable",
			"cause": serr.Error(),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
			"cause": err.Error(),
		})
	}
}
