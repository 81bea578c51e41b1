// Package models содержит доменные структуры движка доступа: пользователя,
// пакеты сессий, сессии, записи аудита и сообщения, а также типы для приёма
// данных из JSON-запросов.
package models

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	UUID              string     `json:"uuid"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"display_name"`
	PasswordHash      string     `json:"-"`
	FreeLimit         int        `json:"free_limit"`
	FreeUsed          int        `json:"free_used"` // только растёт, не больше FreeLimit
	StoreHistory      bool       `json:"store_history"`
	HistoryChangedAt  *time.Time `json:"history_changed_at,omitempty"`
	HistoryDeletionAt *time.Time `json:"history_deletion_at,omitempty"` // задан только при StoreHistory == false
	CreatedAt         time.Time  `json:"created_at"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
}

// FreeRemaining возвращает количество неиспользованных бесплатных сессий.
func (u *User) FreeRemaining() int {
	return max(0, u.FreeLimit-u.FreeUsed)
}

// Preference возвращает текущее состояние настройки хранения истории.
func (u *User) Preference() HistoryPreference {
	return HistoryPreference{
		StoreHistory:      u.StoreHistory,
		HistoryChangedAt:  u.HistoryChangedAt,
		HistoryDeletionAt: u.HistoryDeletionAt,
	}
}

// HistoryPreference описывает настройку хранения истории и запланированное удаление.
type HistoryPreference struct {
	StoreHistory      bool       `json:"store_history"`
	HistoryChangedAt  *time.Time `json:"history_changed_at,omitempty"`
	HistoryDeletionAt *time.Time `json:"history_deletion_at,omitempty"`
}

// DummyUser используется для приёма данных регистрации из JSON-запроса.
type DummyUser struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"omitempty,max=100"`
}

// DummyLogin используется для приёма учётных данных из JSON-запроса.
type DummyLogin struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// DummyHistoryPreference тело запроса на изменение настройки хранения истории.
// Указатель нужен, чтобы отличить false от отсутствующего поля.
type DummyHistoryPreference struct {
	StoreHistory *bool `json:"store_history" validate:"required"`
}

// DummyProfileUpdate тело запроса на изменение профиля.
type DummyProfileUpdate struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
}

// DummyPasswordChange тело запроса на смену пароля.
type DummyPasswordChange struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// PurgeResult итог удаления истории одного пользователя.
type PurgeResult struct {
	UserUID         string    `json:"user_uid"`
	SessionsDeleted int       `json:"sessions_deleted"`
	MessagesDeleted int       `json:"messages_deleted"`
	PurgedAt        time.Time `json:"purged_at"`
}
