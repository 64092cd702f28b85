package domain

// InboundEvent is the channel-agnostic shape of one inbound webhook delivery.
// The webhook layer owns the transport envelope; the pipeline consumes only
// these fields.
type InboundEvent struct {
	// TenantAddress is the bot's own channel address the message was sent
	// to (e.g. "whatsapp:+15550001111"). It selects the tenant.
	TenantAddress string
	// SenderAddress is the end-user's raw channel address, prefix included.
	SenderAddress string
	// SenderDisplayName is the profile name reported by the channel.
	SenderDisplayName string
	// Body is the message text; may be empty for non-text payloads.
	Body string
}

// DeliveryReceipt is the outbound channel's acknowledgment of a sent message.
type DeliveryReceipt struct {
	MessageSID string
	Status     string
}
