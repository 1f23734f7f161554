package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/telemeet/sfu-coordinator/internal/errors"
)

type transportImpl struct {
	api  *apiImpl
	id   string
	info TransportInfo
}

func (t *transportImpl) ID() string {
	return t.id
}

func (t *transportImpl) Info() TransportInfo {
	return t.info
}

func (t *transportImpl) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	return t.api.post(ctx, fmt.Sprintf("/transports/%s/connect", t.id), map[string]any{
		"dtlsParameters": dtlsParameters,
	}, nil)
}

func (t *transportImpl) Produce(ctx context.Context, kind Kind, rtpParameters json.RawMessage, appData json.RawMessage) (Producer, error) {
	if !kind.Valid() {
		return nil, errors.Newf(ErrInvalidPayload, "invalid media kind: %s", kind)
	}

	var payload producerPayload
	err := t.api.post(ctx, fmt.Sprintf("/transports/%s/producers", t.id), map[string]any{
		"kind":          kind,
		"rtpParameters": rtpParameters,
		"appData":       appData,
	}, &payload)
	if err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, errors.New(ErrInvalidPayload, "produce response missing id")
	}
	return &producerImpl{
		api:  t.api,
		id:   payload.ID,
		kind: kind,
	}, nil
}

func (t *transportImpl) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage, paused bool) (Consumer, error) {
	var payload consumerPayload
	err := t.api.post(ctx, fmt.Sprintf("/transports/%s/consumers", t.id), map[string]any{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
		"paused":          paused,
	}, &payload)
	if err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, errors.New(ErrInvalidPayload, "consume response missing id")
	}
	return &consumerImpl{
		api:           t.api,
		id:            payload.ID,
		producerID:    producerID,
		kind:          payload.Kind,
		rtpParameters: payload.RtpParameters,
	}, nil
}

func (t *transportImpl) Close(ctx context.Context) error {
	return t.api.delete(ctx, fmt.Sprintf("/transports/%s", t.id))
}
