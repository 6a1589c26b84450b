package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/calderahq/crm-auth-be/internal/auth"
	"github.com/calderahq/crm-auth-be/internal/services"
)

// maxRegisterMemory bounds in-memory multipart parsing; larger file parts
// spill to disk.
const maxRegisterMemory = 8 << 20

// AuthHandler handles HTTP requests for registration and sessions.
type AuthHandler struct {
	service services.AuthServiceProvider
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service services.AuthServiceProvider) *AuthHandler {
	return &AuthHandler{service: service}
}

// registerPayload is the JSON registration body. Numeric fields are accepted
// as numbers or strings so malformed values reach the validator instead of
// failing the decode.
type registerPayload struct {
	Name                 string      `json:"name"`
	Email                string      `json:"email"`
	PhoneNumber          string      `json:"phone_number"`
	CompanyName          string      `json:"company_name"`
	NumberOfEmployees    interface{} `json:"number_of_employees"`
	RoleID               interface{} `json:"role_id"`
	Password             string      `json:"password"`
	PasswordConfirmation string      `json:"password_confirmation"`
}

// loginPayload is the login body. The email field doubles as a phone number.
type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles new user registration from a JSON or multipart body.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeRegister(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := h.service.Register(r.Context(), input)
	if err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			RespondWithJSON(w, http.StatusUnprocessableEntity, ve.Fields)
			return
		}
		log.Error().Err(err).Str("email", input.Email).Msg("Failed to register user")
		RespondWithError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"user":    user,
		"token":   token,
		"role_id": user.RoleID,
	})
}

// Login handles authentication by email or phone number.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			log.Warn().Str("identifier", payload.Email).Msg("Failed authentication attempt")
			RespondWithError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Error().Err(err).Msg("Login failed")
		RespondWithError(w, http.StatusInternalServerError, "Failed to login")
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"token":   token,
		"role_id": user.RoleID,
		"user":    user,
	})
}

// Logout invalidates the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondWithError(w, http.StatusInternalServerError, "Failed to logout, please try again.")
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to logout")
		RespondWithError(w, http.StatusInternalServerError, "Failed to logout, please try again.")
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

// ListUsers returns all users with the safe field set.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch users")
		RespondWithError(w, http.StatusInternalServerError, "Failed to fetch users")
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// Profile returns the authenticated caller's own record.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	user, err := h.service.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			RespondWithError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to fetch profile")
		RespondWithError(w, http.StatusInternalServerError, "Failed to fetch profile")
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *AuthHandler) decodeRegister(r *http.Request) (services.RegisterInput, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return h.decodeRegisterForm(r)
	}

	var payload registerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return services.RegisterInput{}, err
	}
	return services.RegisterInput{
		Name:                 payload.Name,
		Email:                payload.Email,
		PhoneNumber:          payload.PhoneNumber,
		CompanyName:          payload.CompanyName,
		NumberOfEmployees:    rawNumber(payload.NumberOfEmployees),
		RoleID:               rawNumber(payload.RoleID),
		Password:             payload.Password,
		PasswordConfirmation: payload.PasswordConfirmation,
	}, nil
}

func (h *AuthHandler) decodeRegisterForm(r *http.Request) (services.RegisterInput, error) {
	if err := r.ParseMultipartForm(maxRegisterMemory); err != nil {
		return services.RegisterInput{}, err
	}

	input := services.RegisterInput{
		Name:                 r.FormValue("name"),
		Email:                r.FormValue("email"),
		PhoneNumber:          r.FormValue("phone_number"),
		CompanyName:          r.FormValue("company_name"),
		NumberOfEmployees:    r.FormValue("number_of_employees"),
		RoleID:               r.FormValue("role_id"),
		Password:             r.FormValue("password"),
		PasswordConfirmation: r.FormValue("password_confirmation"),
	}

	file, header, err := r.FormFile("profile_picture")
	if err == nil {
		input.ProfilePicture = &services.Upload{
			Filename: header.Filename,
			Size:     header.Size,
			Content:  file,
		}
	} else if err != http.ErrMissingFile {
		return services.RegisterInput{}, err
	}

	return input, nil
}

// rawNumber renders a decoded JSON value back to its raw string form for the
// validator. Absent fields become "".
func rawNumber(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	default:
		return fmt.Sprintf("%v", n)
	}
}
