package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderahq/crm-auth-be/internal/auth"
	"github.com/calderahq/crm-auth-be/internal/database"
	"github.com/calderahq/crm-auth-be/internal/models"
	"github.com/calderahq/crm-auth-be/internal/storage"
)

func newTestService(t *testing.T) (*AuthService, *auth.Issuer, string) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	issuer := auth.NewIssuer([]byte("test-secret"), time.Hour, auth.NewMemoryBlacklist())
	uploadDir := t.TempDir()
	svc := NewAuthService(db, issuer, storage.NewDiskStore(uploadDir))
	return svc, issuer, uploadDir
}

func validInput() RegisterInput {
	return RegisterInput{
		Name:                 "Ada Lovelace",
		Email:                "a@x.com",
		PhoneNumber:          "555-0100",
		Password:             "secret1",
		PasswordConfirmation: "secret1",
	}
}

func TestRegister_Success(t *testing.T) {
	svc, issuer, _ := newTestService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, "555-0100", user.PhoneNumber)
	assert.Equal(t, models.DefaultRoleID, user.RoleID, "role defaults when omitted")
	assert.Empty(t, user.PasswordHash, "hash never returned")
	assert.Nil(t, user.CompanyName)
	assert.Nil(t, user.ProfilePicture)

	claims, err := issuer.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestRegister_ExplicitRoleEchoedBack(t *testing.T) {
	svc, _, _ := newTestService(t)

	input := validInput()
	input.RoleID = "3"
	user, _, err := svc.Register(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 3, user.RoleID)

	stored, err := svc.GetProfile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.RoleID)
}

func TestRegister_OptionalCompanyFields(t *testing.T) {
	svc, _, _ := newTestService(t)

	input := validInput()
	input.CompanyName = "Initech"
	input.NumberOfEmployees = "250"
	user, _, err := svc.Register(context.Background(), input)
	require.NoError(t, err)

	stored, err := svc.GetProfile(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CompanyName)
	assert.Equal(t, "Initech", *stored.CompanyName)
	require.NotNil(t, stored.NumberOfEmployees)
	assert.Equal(t, 250, *stored.NumberOfEmployees)
}

func TestRegister_ValidationFailures(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*RegisterInput)
		field  string
	}{
		{"missing name", func(i *RegisterInput) { i.Name = "" }, "name"},
		{"missing email", func(i *RegisterInput) { i.Email = "" }, "email"},
		{"bad email", func(i *RegisterInput) { i.Email = "not-an-email" }, "email"},
		{"long email", func(i *RegisterInput) { i.Email = strings.Repeat("a", 250) + "@x.com" }, "email"},
		{"missing phone", func(i *RegisterInput) { i.PhoneNumber = "" }, "phone_number"},
		{"long phone", func(i *RegisterInput) { i.PhoneNumber = strings.Repeat("5", 21) }, "phone_number"},
		{"short password", func(i *RegisterInput) { i.Password = "12345"; i.PasswordConfirmation = "12345" }, "password"},
		{"mismatched confirmation", func(i *RegisterInput) { i.PasswordConfirmation = "different" }, "password"},
		{"non-integer employees", func(i *RegisterInput) { i.NumberOfEmployees = "lots" }, "number_of_employees"},
		{"non-integer role", func(i *RegisterInput) { i.RoleID = "admin" }, "role_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validInput()
			tt.mutate(&input)

			_, _, err := svc.Register(context.Background(), input)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Fields, tt.field)
		})
	}

	// None of the rejected payloads may have written a row.
	users, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	dup := validInput()
	dup.PhoneNumber = "555-0199"
	_, _, err = svc.Register(ctx, dup)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields["email"][0], "already been taken")

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1, "no record created for the duplicate")
}

func TestRegister_DuplicatePhone(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	dup := validInput()
	dup.Email = "b@x.com"
	_, _, err = svc.Register(ctx, dup)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields["phone_number"][0], "already been taken")
}

func TestRegister_WithProfilePicture(t *testing.T) {
	svc, _, uploadDir := newTestService(t)

	input := validInput()
	input.ProfilePicture = &Upload{
		Filename: "avatar.png",
		Size:     16,
		Content:  strings.NewReader("fake image bytes"),
	}

	user, _, err := svc.Register(context.Background(), input)
	require.NoError(t, err)

	require.NotNil(t, user.ProfilePicture)
	assert.True(t, strings.HasPrefix(*user.ProfilePicture, "profile_pictures/"))

	_, err = os.Stat(filepath.Join(uploadDir, filepath.FromSlash(*user.ProfilePicture)))
	assert.NoError(t, err, "blob written to the store")
}

func TestRegister_RejectsBadPicture(t *testing.T) {
	svc, _, _ := newTestService(t)

	input := validInput()
	input.ProfilePicture = &Upload{
		Filename: "malware.exe",
		Size:     16,
		Content:  strings.NewReader("nope"),
	}

	_, _, err := svc.Register(context.Background(), input)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "profile_picture")
}

func TestLogin_ByEmailAndByPhone(t *testing.T) {
	svc, issuer, _ := newTestService(t)
	ctx := context.Background()

	registered, _, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	byEmail, tokenEmail, err := svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, byEmail.ID)
	assert.Empty(t, byEmail.PasswordHash)

	byPhone, tokenPhone, err := svc.Login(ctx, "555-0100", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, byPhone.ID)

	assert.NotEqual(t, tokenEmail, tokenPhone, "each login mints a fresh token")

	ce, err := issuer.Verify(ctx, tokenEmail)
	require.NoError(t, err)
	cp, err := issuer.Verify(ctx, tokenPhone)
	require.NoError(t, err)
	assert.Equal(t, ce.UserID, cp.UserID, "both tokens bind the same identity")
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "555-0100", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownIdentifier(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogout_RevokesToken(t *testing.T) {
	svc, issuer, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, token, err := svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)

	claims, err := issuer.Verify(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, claims))

	_, err = issuer.Verify(ctx, token)
	assert.Error(t, err, "token rejected after logout")

	assert.Error(t, svc.Logout(ctx, claims), "second logout fails the same way")
}

func TestListUsers_SafeProjection(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := validInput()
	first.CompanyName = "Initech"
	_, _, err := svc.Register(ctx, first)
	require.NoError(t, err)

	second := validInput()
	second.Email = "b@x.com"
	second.PhoneNumber = "555-0101"
	second.RoleID = "2"
	_, _, err = svc.Register(ctx, second)
	require.NoError(t, err)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, "a@x.com", users[0].Email)
	require.NotNil(t, users[0].CompanyName)
	assert.Equal(t, "Initech", *users[0].CompanyName)
	assert.Equal(t, models.DefaultRoleID, users[0].RoleID)

	assert.Equal(t, "b@x.com", users[1].Email)
	assert.Nil(t, users[1].CompanyName)
	assert.Equal(t, 2, users[1].RoleID)
}

func TestGetProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	registered, _, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	user, err := svc.GetProfile(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, registered.Email, user.Email)
	assert.Empty(t, user.PasswordHash)
	assert.False(t, user.CreatedAt.IsZero())

	_, err = svc.GetProfile(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
