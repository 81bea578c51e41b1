package models

import "time"

// CreditSource источник кредита, из которого оплачена сессия.
type CreditSource string

const (
	SourceFree CreditSource = "free"
	SourcePaid CreditSource = "paid"
	SourceTest CreditSource = "test"
)

// EntitlementSource происхождение пакета сессий.
type EntitlementSource string

const (
	EntitlementPurchase EntitlementSource = "purchase"
	EntitlementAdmin    EntitlementSource = "admin"
	EntitlementTest     EntitlementSource = "test"
	EntitlementPromo    EntitlementSource = "promo"
)

// Valid сообщает, является ли значение допустимым источником пакета.
func (s EntitlementSource) Valid() bool {
	switch s {
	case EntitlementPurchase, EntitlementAdmin, EntitlementTest, EntitlementPromo:
		return true
	}
	return false
}

// CreditSource возвращает источник кредита для сессии, оплаченной из пакета.
func (s EntitlementSource) CreditSource() CreditSource {
	if s == EntitlementTest {
		return SourceTest
	}
	return SourcePaid
}

// Entitlement купленный или выданный администратором пакет сессий.
type Entitlement struct {
	UUID           string            `json:"uuid"`
	UserUID        string            `json:"user_uid"`
	SessionsTotal  int               `json:"sessions_total"`
	SessionsUsed   int               `json:"sessions_used"`
	ValidUntil     *time.Time        `json:"valid_until,omitempty"` // nil — бессрочный
	Source         EntitlementSource `json:"source"`
	OrderReference *string           `json:"order_reference,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Remaining возвращает остаток пакета на момент now (0 для истекшего).
func (e *Entitlement) Remaining(now time.Time) int {
	if e.ValidUntil != nil && !e.ValidUntil.After(now) {
		return 0
	}
	return max(0, e.SessionsTotal-e.SessionsUsed)
}

// Grant параметры выдачи пакета сессий.
type Grant struct {
	UserUID        string
	Sessions       int
	Source         EntitlementSource
	OrderReference string // пустая строка — без идемпотентности
	ValidDays      int    // 0 — бессрочный
}

// GrantResult результат выдачи пакета.
type GrantResult struct {
	Entitlement      *Entitlement `json:"entitlement"`
	AlreadyProcessed bool         `json:"already_processed"`
}

// Balance агрегированный баланс пользователя. Носит справочный характер.
type Balance struct {
	FreeRemaining int `json:"free_remaining"`
	PaidRemaining int `json:"paid_remaining"`
	Total         int `json:"total"`
}

// NewBalance собирает Balance из остатков двух пулов.
func NewBalance(free, paid int) Balance {
	return Balance{FreeRemaining: free, PaidRemaining: paid, Total: free + paid}
}

// AuditAction тип записи в журнале списаний.
type AuditAction string

const (
	AuditConsumed AuditAction = "consumed"
	AuditRefunded AuditAction = "refunded"
	AuditExpired  AuditAction = "expired"
)

// AuditEntry запись журнала списаний. Только добавляется.
type AuditEntry struct {
	ID        int64        `json:"id"`
	UserUID   string       `json:"user_uid"`
	SessionID *string      `json:"session_id,omitempty"`
	ExpertID  *string      `json:"expert_id,omitempty"`
	Source    CreditSource `json:"credit_source"`
	Action    AuditAction  `json:"action"`
	CreatedAt time.Time    `json:"created_at"`
}

// ConsumeRequest параметры списания одного кредита.
type ConsumeRequest struct {
	UserUID      string
	ExpertID     *string
	Now          time.Time
	FreeDuration time.Duration
	PaidDuration time.Duration
}
