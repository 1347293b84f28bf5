package users

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType is one of the closed set of platform roles
type RoleType string

const (
	RoleStudent      RoleType = "STUDENT"       // Member of exactly one college
	RoleCollegeAdmin RoleType = "COLLEGE_ADMIN" // Manages a single college
	RoleSuperAdmin   RoleType = "SUPER_ADMIN"   // Platform-wide, no college required
)

// rolePrecedence orders roles for PrimaryRole, highest first
var rolePrecedence = []RoleType{RoleSuperAdmin, RoleCollegeAdmin, RoleStudent}

func (r RoleType) Valid() bool {
	switch r {
	case RoleStudent, RoleCollegeAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Profile is the user record returned by the backend alongside the token pair.
type Profile struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	FirebaseUID string     `json:"firebase_uid,omitempty"` // Identity provider UID
	Roles       []RoleType `json:"roles"`
	CollegeID   *int64     `json:"college_id,omitempty"` // Absent for platform-wide accounts
}

func (p *Profile) HasRole(role RoleType) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrimaryRole returns the role used for UI purposes: SUPER_ADMIN over
// COLLEGE_ADMIN over STUDENT. Empty when the profile has no known role.
func (p *Profile) PrimaryRole() RoleType {
	for _, role := range rolePrecedence {
		if p.HasRole(role) {
			return role
		}
	}
	return ""
}

// RequiresCollege reports whether the profile holds a role scoped to a college.
func (p *Profile) RequiresCollege() bool {
	return p.HasRole(RoleStudent) || p.HasRole(RoleCollegeAdmin)
}

func (p *Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	}
	return p.Username
}

// Clone returns a deep copy so stored records never alias caller memory.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = append([]RoleType(nil), p.Roles...)
	if p.CollegeID != nil {
		id := *p.CollegeID
		c.CollegeID = &id
	}
	return &c
}

// Validate checks the profile is well formed enough to hold a session.
func (p *Profile) Validate() error {
	if p.Email == "" {
		return fmt.Errorf("profile has no email")
	}
	if len(p.Roles) == 0 {
		return fmt.Errorf("profile has no roles")
	}
	for _, r := range p.Roles {
		if !r.Valid() {
			return fmt.Errorf("profile has unknown role %q", r)
		}
	}
	return nil
}

// PasswordPolicy mirrors the backend's password validation so weak passwords
// are rejected before reaching the identity provider.
type PasswordPolicy struct {
	MinLength int
}

var DefaultPasswordPolicy = PasswordPolicy{MinLength: 8}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least MinLength characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func (pp PasswordPolicy) ValidatePasswordStrength(password string) error {
	minLength := pp.MinLength
	if minLength <= 0 {
		minLength = DefaultPasswordPolicy.MinLength
	}
	if len([]rune(password)) < minLength {
		return fmt.Errorf("password must be at least %d characters long", minLength)
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

func ValidatePasswordStrength(password string) error {
	return DefaultPasswordPolicy.ValidatePasswordStrength(password)
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
