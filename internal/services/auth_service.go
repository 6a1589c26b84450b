package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/calderahq/crm-auth-be/internal/auth"
	"github.com/calderahq/crm-auth-be/internal/models"
	"github.com/calderahq/crm-auth-be/internal/storage"
	"github.com/calderahq/crm-auth-be/internal/validation"
)

// Sentinel errors surfaced to the HTTP boundary.
var (
	// ErrInvalidCredentials is deliberately uniform: it never reveals
	// whether the identifier existed or which attempt path failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// ValidationError carries the field-to-messages mapping for a rejected
// payload. No partial write has occurred when it is returned.
type ValidationError struct {
	Fields validation.Errors
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// Upload is an optional file attached to a registration request.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// RegisterInput is the raw registration payload. Numeric fields arrive as
// strings so the constraint table can report "must be an integer" instead of
// a decode failure.
type RegisterInput struct {
	Name                 string
	Email                string
	PhoneNumber          string
	CompanyName          string
	NumberOfEmployees    string
	RoleID               string
	Password             string
	PasswordConfirmation string
	ProfilePicture       *Upload
}

// registerRules is the declarative constraint table for registration.
var registerRules = []validation.Rule{
	{Field: "name", Required: true, Max: 255},
	{Field: "email", Required: true, Email: true, Max: 255},
	{Field: "phone_number", Required: true, Max: 20},
	{Field: "company_name", Max: 255},
	{Field: "number_of_employees", Integer: true},
	{Field: "role_id", Integer: true},
	{Field: "password", Required: true, Min: 6, ConfirmedBy: "password_confirmation"},
}

// profilePictureNamespace is where uploaded profile images live in the blob
// store.
const profilePictureNamespace = "profile_pictures"

// AuthServiceProvider defines the interface for authentication services.
type AuthServiceProvider interface {
	Register(ctx context.Context, input RegisterInput) (models.User, string, error)
	Login(ctx context.Context, identifier, password string) (models.User, string, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	GetProfile(ctx context.Context, userID string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.UserSummary, error)
}

// AuthService owns registration, login, logout and identity lookups.
type AuthService struct {
	db     *sql.DB
	issuer *auth.Issuer
	blobs  storage.BlobStore
}

// NewAuthService creates a new AuthService.
func NewAuthService(db *sql.DB, issuer *auth.Issuer, blobs storage.BlobStore) *AuthService {
	return &AuthService{db: db, issuer: issuer, blobs: blobs}
}

// Register validates the payload, stores the optional profile picture,
// creates the user and mints a session token. On any constraint violation it
// returns a ValidationError and writes nothing.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, string, error) {
	values := map[string]string{
		"name":                  input.Name,
		"email":                 input.Email,
		"phone_number":          input.PhoneNumber,
		"company_name":          input.CompanyName,
		"number_of_employees":   input.NumberOfEmployees,
		"role_id":               input.RoleID,
		"password":              input.Password,
		"password_confirmation": input.PasswordConfirmation,
	}

	errs := validation.Check(values, registerRules)
	if input.ProfilePicture != nil {
		validation.CheckImage(errs, "profile_picture", input.ProfilePicture.Filename, input.ProfilePicture.Size)
	}

	if input.Email != "" {
		taken, err := s.identifierTaken(ctx, "email", input.Email)
		if err != nil {
			return models.User{}, "", err
		}
		if taken {
			errs.Add("email", "The email has already been taken.")
		}
	}
	if input.PhoneNumber != "" {
		taken, err := s.identifierTaken(ctx, "phone_number", input.PhoneNumber)
		if err != nil {
			return models.User{}, "", err
		}
		if taken {
			errs.Add("phone_number", "The phone_number has already been taken.")
		}
	}

	if !errs.Empty() {
		return models.User{}, "", &ValidationError{Fields: errs}
	}

	var picturePath *string
	if input.ProfilePicture != nil {
		ref, err := s.blobs.Store(ctx, profilePictureNamespace, input.ProfilePicture.Filename, input.ProfilePicture.Content)
		if err != nil {
			return models.User{}, "", fmt.Errorf("failed to store profile picture: %w", err)
		}
		picturePath = &ref
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		s.discardBlob(ctx, picturePath)
		return models.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	roleID := models.DefaultRoleID
	if input.RoleID != "" {
		roleID, _ = strconv.Atoi(input.RoleID) // validated above
	}

	user := models.User{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Email:        input.Email,
		PhoneNumber:  input.PhoneNumber,
		RoleID:       roleID,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now().UTC(),
	}
	if input.CompanyName != "" {
		user.CompanyName = &input.CompanyName
	}
	if input.NumberOfEmployees != "" {
		n, _ := strconv.Atoi(input.NumberOfEmployees)
		user.NumberOfEmployees = &n
	}
	user.ProfilePicture = picturePath

	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO users
		(id, name, email, phone_number, company_name, number_of_employees, profile_picture, role_id, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		s.discardBlob(ctx, picturePath)
		return models.User{}, "", err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, user.ID, user.Name, user.Email, user.PhoneNumber,
		user.CompanyName, user.NumberOfEmployees, user.ProfilePicture, user.RoleID,
		user.PasswordHash, user.CreatedAt.UnixMilli())
	if err != nil {
		s.discardBlob(ctx, picturePath)
		// A concurrent registration can slip past the pre-check; surface
		// the constraint violation as the same field error.
		if dup := duplicateField(err); dup != "" {
			errs.Add(dup, fmt.Sprintf("The %s has already been taken.", dup))
			return models.User{}, "", &ValidationError{Fields: errs}
		}
		return models.User{}, "", err
	}

	token, err := s.issuer.Issue(user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to generate token: %w", err)
	}

	user.PasswordHash = ""
	return user, token, nil
}

// Login authenticates an identifier that may be an email or a phone number.
// The email attempt runs first; if match-and-verify fails, the same value is
// retried as a phone number.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (models.User, string, error) {
	user, err := s.attempt(ctx, "email", identifier, password)
	if err != nil {
		user, err = s.attempt(ctx, "phone_number", identifier, password)
	}
	if err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to generate token: %w", err)
	}

	user.PasswordHash = ""
	return user, token, nil
}

// Logout revokes the presented token for the rest of its validity window.
// Revoking an already-revoked token fails the same way.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) error {
	return s.issuer.Revoke(ctx, claims)
}

// GetProfile returns the caller's own record.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (models.User, error) {
	user, err := s.findBy(ctx, "id", userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

// ListUsers returns all users projected to the safe field set. The password
// hash is never selected.
func (s *AuthService) ListUsers(ctx context.Context) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, role_id, company_name, phone_number FROM users ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.UserSummary{}
	for rows.Next() {
		var u models.UserSummary
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.RoleID, &u.CompanyName, &u.PhoneNumber); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// attempt matches one identifier column and verifies the password.
func (s *AuthService) attempt(ctx context.Context, column, identifier, password string) (models.User, error) {
	user, err := s.findBy(ctx, column, identifier)
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *AuthService) findBy(ctx context.Context, column, value string) (models.User, error) {
	// column is always one of the fixed identifiers below, never user input.
	var query string
	switch column {
	case "id":
		query = "SELECT id, name, email, phone_number, company_name, number_of_employees, profile_picture, role_id, password_hash, created_at FROM users WHERE id = ?"
	case "email":
		query = "SELECT id, name, email, phone_number, company_name, number_of_employees, profile_picture, role_id, password_hash, created_at FROM users WHERE email = ?"
	case "phone_number":
		query = "SELECT id, name, email, phone_number, company_name, number_of_employees, profile_picture, role_id, password_hash, created_at FROM users WHERE phone_number = ?"
	default:
		return models.User{}, fmt.Errorf("unsupported lookup column %q", column)
	}

	var user models.User
	var createdAt int64
	row := s.db.QueryRowContext(ctx, query, value)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PhoneNumber,
		&user.CompanyName, &user.NumberOfEmployees, &user.ProfilePicture,
		&user.RoleID, &user.PasswordHash, &createdAt)
	if err != nil {
		return models.User{}, err
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return user, nil
}

func (s *AuthService) identifierTaken(ctx context.Context, column, value string) (bool, error) {
	var query string
	switch column {
	case "email":
		query = "SELECT COUNT(1) FROM users WHERE email = ?"
	case "phone_number":
		query = "SELECT COUNT(1) FROM users WHERE phone_number = ?"
	default:
		return false, fmt.Errorf("unsupported uniqueness column %q", column)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, value).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// discardBlob best-effort removes an uploaded blob when the registration it
// belonged to did not complete.
func (s *AuthService) discardBlob(ctx context.Context, ref *string) {
	if ref == nil {
		return
	}
	if err := s.blobs.Remove(ctx, *ref); err != nil {
		log.Warn().Err(err).Str("ref", *ref).Msg("Failed to remove orphaned upload")
	}
}

// duplicateField maps a SQLite unique-constraint violation to the offending
// field name, or returns "".
func duplicateField(err error) string {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return ""
	}
	if strings.Contains(msg, "users.email") {
		return "email"
	}
	if strings.Contains(msg, "users.phone_number") {
		return "phone_number"
	}
	return ""
}
