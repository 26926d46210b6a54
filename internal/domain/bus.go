package domain

// MessageBus routes chat text from text channels to the session hub and
// replies back.
type MessageBus interface {
	// Publish queues a message for the hub; an error means it was not queued.
	Publish(msg InboundMessage) error
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, deliver func(OutboundMessage))
	Close()
}
