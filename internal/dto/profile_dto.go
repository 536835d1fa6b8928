package dto

import "github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"

// ProfileListResponse is one page of the admin profile listing.
type ProfileListResponse struct {
	Profiles []models.Profile `json:"profiles"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}
