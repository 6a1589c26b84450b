package models

import "time"

// DefaultRoleID is assigned when registration omits an explicit role.
const DefaultRoleID = 1

// User represents a user account in the system.
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PhoneNumber       string    `json:"phone_number"`
	CompanyName       *string   `json:"company_name"`
	NumberOfEmployees *int      `json:"number_of_employees"`
	ProfilePicture    *string   `json:"profile_picture"`
	RoleID            int       `json:"role_id"`
	PasswordHash      string    `json:"-"` // Never expose this to the client
	CreatedAt         time.Time `json:"created_at"`
}

// UserSummary is the safe projection returned by the user listing.
type UserSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	RoleID      int     `json:"role_id"`
	CompanyName *string `json:"company_name"`
	PhoneNumber string  `json:"phone_number"`
}
