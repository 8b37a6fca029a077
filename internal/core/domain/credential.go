package domain

import "time"

// Credential is a bearer token obtained from the auth service.
type Credential struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsZero reports whether no token has been set.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// Expired reports whether the token is past its expiry at the given time.
// A credential without an expiry never expires.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// Authorization returns the value of the authorization header.
func (c Credential) Authorization() string {
	return "Bearer " + c.Token
}

// String hides the token so credentials can be logged.
func (c Credential) String() string {
	if c.IsZero() {
		return "credential(empty)"
	}
	return "credential(expires=" + c.ExpiresAt.Format(time.RFC3339) + ")"
}
