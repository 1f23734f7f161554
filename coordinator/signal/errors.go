package signal

import "github.com/telemeet/sfu-coordinator/internal/jsonrpc"

// Domain error codes carried in JSON-RPC error responses. Malformed
// payloads use the standard invalid-params code; engine failures are
// masked as internal errors.
const (
	codeRoomNotFound          int64 = 1001
	codeTransportNotFound     int64 = 1002
	codeProducerNotFound      int64 = 1003
	codeConsumerNotFound      int64 = 1004
	codeConsumeRejected       int64 = 1005
	codeTransportCreateFailed int64 = 1006
)

func errRoomNotFound() *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeRoomNotFound, "room not found")
}

func errTransportNotFound() *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeTransportNotFound, "transport not found")
}

func errProducerNotFound() *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeProducerNotFound, "producer not found")
}

func errConsumerNotFound() *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeConsumerNotFound, "consumer not found")
}

func errConsumeRejected() *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeConsumeRejected, "consume rejected")
}

func errTransportCreateFailed() *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeTransportCreateFailed, "transport create failed")
}
