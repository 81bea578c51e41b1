// Package metrics содержит счетчики Prometheus для мониторинга движка доступа.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditsConsumedTotal счетчик списанных кредитов по источнику
	CreditsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_gate_credits_consumed_total",
		Help: "The total number of consumed session credits by source",
	}, []string{"source"})

	// CreditsExhaustedTotal счетчик попыток списания при нулевом балансе
	CreditsExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_gate_credits_exhausted_total",
		Help: "The total number of consume attempts rejected for lack of credits",
	})

	// ConsumeRetriesTotal счетчик повторов списания после временных ошибок БД
	ConsumeRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_gate_consume_retries_total",
		Help: "The total number of credit consumption retries after transient store errors",
	})

	// EntitlementsGrantedTotal счетчик выданных пакетов сессий
	EntitlementsGrantedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_gate_entitlements_granted_total",
		Help: "The total number of granted entitlements by source",
	}, []string{"source"})

	// TokenRenewalsTotal счетчик продлений токена в middleware
	TokenRenewalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_gate_token_renewals_total",
		Help: "The total number of sliding token renewals",
	})

	// AuthFailuresTotal счетчик отказов аутентификации по причине
	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_gate_auth_failures_total",
		Help: "The total number of rejected authentications by reason",
	}, []string{"reason"})

	// SessionsEndedTotal счетчик досрочно завершенных сессий
	SessionsEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_gate_sessions_ended_total",
		Help: "The total number of sessions ended by their owners",
	})

	// RetentionPurgedTotal счетчик пользователей с удаленной историей
	RetentionPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_gate_retention_users_purged_total",
		Help: "The total number of users whose history was purged",
	})

	// RetentionFailuresTotal счетчик ошибок удаления истории
	RetentionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_gate_retention_failures_total",
		Help: "The total number of per-user purge failures",
	})

	// RateLimitExceededTotal счетчик превышений ограничения частоты запросов
	RateLimitExceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_gate_rate_limit_exceeded_total",
		Help: "The total number of rate limit exceeded events",
	})
)
