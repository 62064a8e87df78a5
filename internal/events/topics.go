package events

// Topic constants for domain events written to the outbox.
const (
	TopicOrderPlaced       = "order.placed"
	TopicInvoiceIssued     = "invoice.issued"
	TopicPromotionConsumed = "promotion.consumed"
)
