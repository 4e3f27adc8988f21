package events

// Topic constants for domain events emitted by the POS engine.
const (
	TopicSaleCompleted = "pos.sale.completed"
	TopicSaleRejected  = "pos.sale.rejected"
	TopicSessionOpened = "pos.session.opened"
	TopicSessionClosed = "pos.session.closed"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicSaleCompleted,
		TopicSaleRejected,
		TopicSessionOpened,
		TopicSessionClosed,
	}
}
