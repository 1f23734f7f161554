package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

type routerImpl struct {
	api     *apiImpl
	id      string
	rtpCaps json.RawMessage
}

func (r *routerImpl) ID() string {
	return r.id
}

func (r *routerImpl) RtpCapabilities() json.RawMessage {
	return r.rtpCaps
}

func (r *routerImpl) CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error) {
	var info TransportInfo
	err := r.api.post(ctx, fmt.Sprintf("/routers/%s/transports", r.id), map[string]any{
		"appData": opts.AppData,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &transportImpl{
		api:  r.api,
		id:   info.ID,
		info: info,
	}, nil
}

func (r *routerImpl) CanConsume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (bool, error) {
	var payload canConsumePayload
	err := r.api.post(ctx, fmt.Sprintf("/routers/%s/can-consume", r.id), map[string]any{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
	}, &payload)
	if err != nil {
		return false, err
	}
	return payload.CanConsume, nil
}

func (r *routerImpl) Close(ctx context.Context) error {
	return r.api.delete(ctx, fmt.Sprintf("/routers/%s", r.id))
}
