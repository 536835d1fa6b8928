package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/dto"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/services"
)

// ProfileHandler serves /api/profiles. Routes are expected behind
// JWTProtected and SelfOrAdmin, or AdminRequired for the listing.
type ProfileHandler struct {
	profiles *services.ProfileService
}

func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	profile, err := h.profiles.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

func (h *ProfileHandler) Create(c *fiber.Ctx) error {
	var seed models.ProfileSeed
	if err := c.BodyParser(&seed); err != nil {
		return badRequest(c, "Invalid request body")
	}

	profile, err := h.profiles.Create(c.UserContext(), c.Params("id"), seed)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(profile)
}

func (h *ProfileHandler) Update(c *fiber.Ctx) error {
	var update models.ProfileUpdate
	if err := c.BodyParser(&update); err != nil {
		return badRequest(c, "Invalid request body")
	}

	profile, err := h.profiles.Update(c.UserContext(), c.Params("id"), update, middleware.IsAdmin(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// Delete deactivates the profile; ?hard=true removes it.
func (h *ProfileHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	var err error
	if c.QueryBool("hard") {
		err = h.profiles.HardDelete(c.UserContext(), id)
	} else {
		err = h.profiles.SoftDelete(c.UserContext(), id)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// List pages through all profiles, newest first. Optional email, role and
// status query params filter the result.
func (h *ProfileHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	filter := services.ProfileFilter{
		Email:  c.Query("email"),
		Role:   models.Role(c.Query("role")),
		Status: models.Status(c.Query("status")),
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return badRequest(c, "Unknown role")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return badRequest(c, "Unknown status")
	}

	profiles, total, err := h.profiles.List(c.UserContext(), filter, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ProfileListResponse{
		Profiles: profiles,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}
