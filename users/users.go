package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID            string    `json:"id,omitempty"`          // Unique identifier for the user
	Username      string    `json:"username,omitempty"`    // Unique username, matched case-insensitively
	Email         string    `json:"email,omitempty"`       // User's email address
	PasswordHash  string    `json:"-"`                     // Hashed version of the user's password - never serialize
	SecurityStamp string    `json:"-"`                     // Rotated whenever the credentials change
	DateJoined    time.Time `json:"date_joined,omitempty"` // Date and time when the user registered
	LastLogin     time.Time `json:"last_login,omitempty"`  // Last time the user logged in
	Blocked       bool      `json:"blocked,omitempty"`     // Blocked, has the user been blocked from logging in
}

// NewUser validates the password and returns a user with a fresh id and security stamp.
func NewUser(username, email, password string) (*User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("username is required")
	}

	u := &User{
		ID:         uuid.NewString(),
		Username:   strings.TrimSpace(username),
		Email:      email,
		DateJoined: time.Now().UTC(),
	}
	if err := u.SetPassword(password); err != nil {
		return nil, err
	}
	return u, nil
}

// SetPassword replaces the password hash and rotates the security stamp.
func (u *User) SetPassword(password string) error {
	if err := ValidatePasswordStrength(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("users.SetPassword: %w", err)
	}
	u.PasswordHash = hash
	u.SecurityStamp = NewSecurityStamp()
	return nil
}

func NewSecurityStamp() string {
	return uuid.NewString()
}

// NormalizeUsername is the key usernames are compared on.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
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

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CheckPassword checks a password against the user's hash
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.PasswordHash)
}
