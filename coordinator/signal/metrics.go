package signal

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/telemeet/sfu-coordinator/internal/otel"
)

var (
	// Connection metrics
	wsConnectionsActive metric.Int64UpDownCounter
	wsConnectionsTotal  metric.Int64Counter
	authFailures        metric.Int64Counter

	// Session lifecycle metrics
	joinsTotal     metric.Int64Counter
	teardownsTotal metric.Int64Counter

	// Media negotiation metrics
	transportsCreated metric.Int64Counter
	producesTotal     metric.Int64Counter
	consumesTotal     metric.Int64Counter

	// Broadcast metrics
	notificationsSent   metric.Int64Counter
	notificationsFailed metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("coordinator.signal", intotel.PrefixSignal)

	f.Int64UpDownCounter(&wsConnectionsActive, "ws.connections.active",
		metric.WithDescription("Number of open websocket connections"))

	f.Int64Counter(&wsConnectionsTotal, "ws.connections.total",
		metric.WithDescription("Total accepted websocket connections"))

	f.Int64Counter(&authFailures, "ws.auth.failures",
		metric.WithDescription("Total websocket upgrades rejected at verification"))

	f.Int64Counter(&joinsTotal, "joins.total",
		metric.WithDescription("Total successful join-room requests"))

	f.Int64Counter(&teardownsTotal, "teardowns.total",
		metric.WithDescription("Total participant teardowns"))

	f.Int64Counter(&transportsCreated, "transports.created",
		metric.WithDescription("Total transports created"))

	f.Int64Counter(&producesTotal, "produces.total",
		metric.WithDescription("Total producers created"))

	f.Int64Counter(&consumesTotal, "consumes.total",
		metric.WithDescription("Total consumers created"))

	f.Int64Counter(&notificationsSent, "notifications.sent",
		metric.WithDescription("Total notifications delivered to peers"))

	f.Int64Counter(&notificationsFailed, "notifications.failed",
		metric.WithDescription("Total notifications that failed to deliver"))
}
