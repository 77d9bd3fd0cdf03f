package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/profile"
)

// UserHandler serves the bearer-protected user endpoints
type UserHandler struct {
	profiles *profile.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(profiles *profile.Service) *UserHandler {
	return &UserHandler{profiles: profiles}
}

// registerBasicRequest is the request body for POST /user/register/basic
type registerBasicRequest struct {
	FullName    string          `json:"full_name"`
	DateOfBirth string          `json:"date_of_birth"`
	Email       string          `json:"email"`
	Location    json.RawMessage `json:"location"`
}

type profileResponse struct {
	FullName    string          `json:"full_name"`
	DateOfBirth string          `json:"date_of_birth"`
	Email       string          `json:"email,omitempty"`
	Location    json.RawMessage `json:"location,omitempty"`
}

type meResponse struct {
	ID                          string           `json:"id"`
	PhoneNumber                 string           `json:"phone_number"`
	IsBasicRegistrationComplete bool             `json:"is_basic_registration_complete"`
	Profile                     *profileResponse `json:"profile,omitempty"`
}

func toProfileResponse(p model.Profile) *profileResponse {
	return &profileResponse{
		FullName:    p.FullName,
		DateOfBirth: p.DateOfBirth.Format(profile.DateLayout),
		Email:       p.Email,
		Location:    p.Location,
	}
}

// HandleRegisterBasic handles POST /user/register/basic (protected)
func (h *UserHandler) HandleRegisterBasic(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req registerBasicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.profiles.RegisterBasic(r.Context(), userID, profile.BasicInput{
		FullName:    req.FullName,
		DateOfBirth: req.DateOfBirth,
		Email:       req.Email,
		Location:    req.Location,
	})
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrInvalidProfile):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrForbidden):
			respondWithError(w, http.StatusForbidden, "account deactivated")
		default:
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("basic registration failed")
			respondWithError(w, http.StatusInternalServerError, "failed to register")
		}
		return
	}

	respondWithJSON(w, r, http.StatusOK, map[string]any{
		"message":                        "registered",
		"is_basic_registration_complete": true,
		"profile":                        toProfileResponse(p),
	})
}

// HandleMe handles GET /user/me (protected, registration required)
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	me, err := h.profiles.Me(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			respondWithError(w, http.StatusForbidden, "account deactivated")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("load me failed")
		respondWithError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	resp := meResponse{
		ID:                          me.User.ID.String(),
		PhoneNumber:                 me.User.PhoneNumber,
		IsBasicRegistrationComplete: me.User.IsBasicRegistrationComplete,
	}
	if me.Profile != nil {
		resp.Profile = toProfileResponse(*me.Profile)
	}
	respondWithJSON(w, r, http.StatusOK, resp)
}
