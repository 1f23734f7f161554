package transport

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/telemeet/sfu-coordinator/internal/otel"
)

var (
	healthChecksTotal  metric.Int64Counter
	engineUnreachable  metric.Int64Counter
	roomLookupsTotal   metric.Int64Counter
	roomLookupsMissing metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("coordinator.admin", intotel.PrefixAdmin)

	f.Int64Counter(&healthChecksTotal, "health.checks",
		metric.WithDescription("Total health check requests"))

	f.Int64Counter(&engineUnreachable, "health.engine_unreachable",
		metric.WithDescription("Health checks that found the engine unreachable"))

	f.Int64Counter(&roomLookupsTotal, "rooms.lookups",
		metric.WithDescription("Total room describe requests"))

	f.Int64Counter(&roomLookupsMissing, "rooms.lookups_missing",
		metric.WithDescription("Room describe requests for unknown rooms"))
}
