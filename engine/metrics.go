package engine

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/telemeet/sfu-coordinator/internal/otel"
)

var (
	// Engine API call metrics
	engineRequests metric.Int64Counter
	engineFailures metric.Int64Counter

	// Health watcher metrics
	pingFailures metric.Int64Counter
	engineDowns  metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("engine", intotel.PrefixEngine)

	f.Int64Counter(&engineRequests, "requests.total",
		metric.WithDescription("Total control requests sent to the media engine"))

	f.Int64Counter(&engineFailures, "requests.failed",
		metric.WithDescription("Total failed media engine control requests"))

	f.Int64Counter(&pingFailures, "ping.failures",
		metric.WithDescription("Total failed engine health pings"))

	f.Int64Counter(&engineDowns, "down.total",
		metric.WithDescription("Times the engine was declared down"))
}
