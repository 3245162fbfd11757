// Package apiconnect wires the splitledger.v1 services to connect handlers and clients.
package apiconnect

import (
	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
)

func handlerOptions(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(api.Codec{})}, opts...)
}

func clientOptions(opts []connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(api.Codec{})}, opts...)
}
