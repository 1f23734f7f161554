package engine

import (
	"context"
	"encoding/json"
)

// Kind of a media track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// API is the coordinator-side binding of the external media routing engine.
// Codec configs, RTP/DTLS parameters and capability sets are opaque blobs
// negotiated between clients and the engine; the coordinator only relays them.
type API interface {
	// CreateRouter allocates one forwarding domain on the engine.
	CreateRouter(ctx context.Context, codecConfig json.RawMessage) (Router, error)

	// Ping reports engine liveness.
	Ping(ctx context.Context) error
}

// Router is a per-room forwarding domain.
type Router interface {
	ID() string
	RtpCapabilities() json.RawMessage

	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)

	// CanConsume reports whether a client with the given capabilities can
	// receive the producer's media.
	CanConsume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (bool, error)

	// Close is idempotent and cascades to the router's transports on the engine.
	Close(ctx context.Context) error
}

// TransportOptions are the network options for transport creation.
type TransportOptions struct {
	// ListenIP/AnnouncedIP selection happens engine-side; AppData is an
	// opaque tag echoed back in engine dumps.
	AppData json.RawMessage `json:"appData,omitempty"`
}

// TransportInfo carries the connection parameters a client needs to
// establish the transport.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// Transport is one directional network channel between a participant and
// a router.
type Transport interface {
	ID() string
	Info() TransportInfo

	Connect(ctx context.Context, dtlsParameters json.RawMessage) error

	Produce(ctx context.Context, kind Kind, rtpParameters, appData json.RawMessage) (Producer, error)

	// Consume binds a consumer to one producer. Created paused when paused
	// is true; the client resumes it once its side is wired up.
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage, paused bool) (Consumer, error)

	// Close is idempotent and cascades to the transport's producers and
	// consumers on the engine.
	Close(ctx context.Context) error
}

// Producer is one outbound track a participant sends through its send transport.
type Producer interface {
	ID() string
	Kind() Kind
	Close(ctx context.Context) error
}

// Consumer is one inbound track bound to a producer through a receive transport.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RtpParameters() json.RawMessage
	Resume(ctx context.Context) error
	Close(ctx context.Context) error
}
