package domain

import "time"

// UserStatus is the account lifecycle state. Only active accounts can log in.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusPending  UserStatus = "pending"
)

// User is an account record. PasswordHash is the bcrypt hash; the plaintext
// never leaves the login path.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Status       UserStatus

	// FailedLoginAttempts is the consecutive failure counter, reset on
	// success. LockedUntil, when set and in the future, blocks logins
	// regardless of credentials.
	FailedLoginAttempts int
	LockedUntil         *time.Time

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Locked reports whether the account is locked out at the given instant.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// CanLogin reports whether the account state permits a login attempt to
// proceed to credential checking.
func (u *User) CanLogin() bool {
	return u.Status == UserStatusActive
}
