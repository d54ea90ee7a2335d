package model

import "time"

// Credential is a login ticket issued for one service.
type Credential struct {
	Service    string
	Token      string
	Sign       string
	Expiration time.Time
}

// Valid reports whether the credential is still alive at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.Expiration.After(now)
}

// Auth returns the token/sign pair the remote services expect.
func (c *Credential) Auth() (token, sign string) {
	return c.Token, c.Sign
}
