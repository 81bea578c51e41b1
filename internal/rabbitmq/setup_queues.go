package rabbitmq

// HistoryExchange exchange для событий истории пользователей.
const HistoryExchange = "history"

// RoutingKeyPurged ключ маршрутизации события об удалении истории.
const RoutingKeyPurged = "purged"

// QueueConfig описывает очередь и её ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetHistoryQueues возвращает очереди, привязанные к HistoryExchange.
func GetHistoryQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "history.purged", RoutingKey: RoutingKeyPurged},
	}
}
