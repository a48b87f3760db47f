package contracts

// Exchanges
const (
	// ExchangeSessionFanout carries every committed session event to all tracker instances.
	ExchangeSessionFanout = "session_events"
)

// Queues
const (
	// QueueInstancePrefix prefixes the exclusive per-instance relay queue: tracker.{instance_id}
	QueueInstancePrefix = "tracker."
)

// Relay event kinds
const (
	EventSessionStatus   = "session.status"
	EventSessionLocation = "session.location"
)

// WebSocket message types
const (
	WSTypeAuth                = "auth"
	WSTypeAuthOK              = "auth_ok"
	WSTypeStatusUpdate        = "status_update"
	WSTypeLocationUpdate      = "location_update"
	WSTypeSubscribeLocation   = "subscribe_location"
	WSTypeUnsubscribeLocation = "unsubscribe_location"
	WSTypeError               = "error"
)
