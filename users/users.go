package users

import (
	"fmt"
	"time"
	"unicode"
)

// RoleType represents a user role either at system or tenant level
type RoleType string

const (
	// System-level roles
	RoleSuperAdmin RoleType = "super_admin" // Can manage all tenants and system configuration

	// Tenant-level roles
	RoleTenantAdmin  RoleType = "tenant_admin"  // Can manage users and settings within a tenant
	RoleTenantUser   RoleType = "tenant_user"   // Regular user within a tenant
	RoleTenantViewer RoleType = "tenant_viewer" // Read-only access within a tenant
)

// User is the authenticated profile as the backend reports it. The client
// never holds password material; authentication is credential-pair based.
type User struct {
	ID         string    `json:"id,omitempty"`          // Unique identifier for the user
	Email      string    `json:"email,omitempty"`       // User's email address
	Username   string    `json:"username,omitempty"`    // Unique username
	FirstName  string    `json:"first_name,omitempty"`  // First name of the user
	LastName   string    `json:"last_name,omitempty"`   // Last name of the user
	DateJoined time.Time `json:"date_joined,omitempty"` // Date and time when the user registered
	LastLogin  time.Time `json:"last_login,omitempty"`  // Last time the user logged in

	SystemRoles []RoleType `json:"system_roles,omitempty"` // System-wide roles

	Verified   bool `json:"verified,omitempty"`    // Has the user verified who they are
	TOTPActive bool `json:"totp_active,omitempty"` // Whether a TOTP second factor is enrolled
}

// FullName returns the display name for the user.
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Username
	}
	return u.FirstName + " " + u.LastName
}

// IsSuperAdmin returns true if the user has super admin privileges
func (u *User) IsSuperAdmin() bool {
	for _, role := range u.SystemRoles {
		if role == RoleSuperAdmin {
			return true
		}
	}
	return false
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}
