package kafka

const (
	TopicQueueJoined    = "notification.queue_joined"
	TopicQueueTurn      = "notification.queue_turn"
	TopicSessionExpired = "notification.session_expired"

	TopicOrderCompleted   = "order.completed"
	TopicEventSaleStarted = "event.sale_started"
	TopicEventSaleEnded   = "event.sale_ended"
	TopicEventSoldOut     = "event.sold_out"
	TopicEventCancelled   = "event.cancelled"
)

// ConsumedTopics are the topics the admission consumer group subscribes to.
var ConsumedTopics = []string{
	TopicOrderCompleted,
	TopicEventSaleStarted,
	TopicEventSaleEnded,
	TopicEventSoldOut,
	TopicEventCancelled,
}
