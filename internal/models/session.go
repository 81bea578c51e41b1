package models

import (
	"time"
)

// SessionStatus состояние сессии.
type SessionStatus string

const (
	StatusActive  SessionStatus = "active"
	StatusExpired SessionStatus = "expired"
	StatusEnded   SessionStatus = "ended"
)

// Terminal сообщает, является ли состояние конечным.
func (s SessionStatus) Terminal() bool {
	return s == StatusExpired || s == StatusEnded
}

// Session одна сессия чата с фиксированной длительностью.
//
// Хранимый Status меняется только на ended (явно) или expired (по желанию,
// при чтении). Фактическое состояние всегда вычисляет StatusAt.
type Session struct {
	UUID            string        `json:"uuid"`
	UserUID         string        `json:"user_uid"`
	ExpertID        *string       `json:"expert_id,omitempty"`
	Source          CreditSource  `json:"credit_source"`
	DurationMinutes int           `json:"duration_minutes"`
	StartedAt       time.Time     `json:"started_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	Status          SessionStatus `json:"status"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
}

// StatusAt вычисляет состояние сессии и оставшееся время в секундах на момент now.
func (s *Session) StatusAt(now time.Time) (SessionStatus, int) {
	switch s.Status {
	case StatusEnded, StatusExpired:
		return s.Status, 0
	}
	remaining := s.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return StatusExpired, 0
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return StatusActive, secs
}

// SessionState ответ на запрос состояния сессии.
type SessionState struct {
	SessionID        string        `json:"session_id"`
	Status           SessionStatus `json:"status"`
	RemainingSeconds int           `json:"remaining_seconds"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

// SessionSummary краткое описание сессии для страницы истории.
type SessionSummary struct {
	Session
	MessageCount int    `json:"message_count"`
	Preview      string `json:"preview,omitempty"`
}

// SessionPage страница истории сессий пользователя.
type SessionPage struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"has_more"`
}

// MessageRole автор сообщения.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message одно сообщение в сессии.
type Message struct {
	UUID      string      `json:"uuid"`
	SessionID string      `json:"session_id"`
	UserUID   string      `json:"user_uid"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// DummyMessage тело запроса на добавление сообщения.
type DummyMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=20000"`
}

// DummySession тело запроса на создание сессии. ExpertID необязателен.
type DummySession struct {
	ExpertID string `json:"expert_id,omitempty"`
}

// PreviewLength максимальная длина превью последнего сообщения в символах.
const PreviewLength = 100

// Preview обрезает текст до PreviewLength символов.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}
