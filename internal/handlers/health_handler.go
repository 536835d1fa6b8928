package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/oauth"
)

type HealthHandler struct {
	ping      func() error
	providers *oauth.Registry
}

// NewHealthHandler reports database reachability through ping, usually
// database.Ping.
func NewHealthHandler(ping func() error, providers *oauth.Registry) *HealthHandler {
	return &HealthHandler{ping: ping, providers: providers}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "ok"
	dbStatus := "ok"
	if err := h.ping(); err != nil {
		status = "degraded"
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		Providers: h.providers.Names(),
	})
}
