package orders

const (
	TopicOrderEvents    = "order.events"
	TopicNotifications  = "notifications"
	TopicPaymentWebhook = "payment.webhook"
)

// Partition key = order id (or tx_ref), so every event of one order keeps its order.
func PartitionKey(id string) []byte { return []byte(id) }
