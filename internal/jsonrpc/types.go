package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
)

type Handler[T any] interface {
	// Def registers a method handler. All connections created by this
	// handler share the same method table.
	Def(method string, handler MethodHandler[T])
	NewConn(stream ObjectStream, v *T) Conn[T]
}

type Client[T any] interface {
	Call(ctx context.Context, method string, params, result interface{}) error
	Notify(ctx context.Context, method string, params interface{}) error
	io.Closer
}

type Conn[T any] interface {
	Client[T]
	Open(ctx context.Context) error
	Context() MethodContext[T]
}

// MethodHandler is a function that handles a JSON-RPC method.
// The method context is shared across all method calls for a connection.
type MethodHandler[T any] func(mctx MethodContext[T], params *json.RawMessage) (interface{}, error)

type ObjectStream interface {
	Open(ctx context.Context) error
	Read(ctx context.Context, v interface{}) error
	Write(ctx context.Context, obj interface{}) error
	io.Closer
}
