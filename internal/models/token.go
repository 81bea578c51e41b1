package models

import "time"

// IssuedToken выпущенный токен доступа.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int       `json:"expires_in"` // секунды
}

// Verification результат проверки токена. Renewed задан, если токен
// близок к истечению и был выпущен новый.
type Verification struct {
	Subject   string
	ExpiresAt time.Time
	Renewed   *IssuedToken
}
