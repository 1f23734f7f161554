package registry

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/telemeet/sfu-coordinator/internal/otel"
)

var (
	// Room lifecycle metrics
	roomsActive   metric.Int64UpDownCounter
	roomsCreated  metric.Int64Counter
	roomsDisposed metric.Int64Counter

	// Membership metrics
	joinsTotal metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("coordinator.registry", intotel.PrefixSignal)

	f.Int64UpDownCounter(&roomsActive, "rooms.active",
		metric.WithDescription("Number of live rooms"))

	f.Int64Counter(&roomsCreated, "rooms.created",
		metric.WithDescription("Total rooms created"))

	f.Int64Counter(&roomsDisposed, "rooms.disposed",
		metric.WithDescription("Total rooms disposed after the last leave"))

	f.Int64Counter(&joinsTotal, "joins.total",
		metric.WithDescription("Total room joins"))
}
