package otel

// Metric prefixes per component.
const (
	PrefixSignal = "coordinator_signal"
	PrefixEngine = "media_engine"
	PrefixAdmin  = "coordinator_admin"
)
