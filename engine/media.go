package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

type producerImpl struct {
	api  *apiImpl
	id   string
	kind Kind
}

func (p *producerImpl) ID() string {
	return p.id
}

func (p *producerImpl) Kind() Kind {
	return p.kind
}

func (p *producerImpl) Close(ctx context.Context) error {
	return p.api.delete(ctx, fmt.Sprintf("/producers/%s", p.id))
}

type consumerImpl struct {
	api           *apiImpl
	id            string
	producerID    string
	kind          Kind
	rtpParameters json.RawMessage
}

func (c *consumerImpl) ID() string {
	return c.id
}

func (c *consumerImpl) ProducerID() string {
	return c.producerID
}

func (c *consumerImpl) Kind() Kind {
	return c.kind
}

func (c *consumerImpl) RtpParameters() json.RawMessage {
	return c.rtpParameters
}

func (c *consumerImpl) Resume(ctx context.Context) error {
	return c.api.post(ctx, fmt.Sprintf("/consumers/%s/resume", c.id), nil, nil)
}

func (c *consumerImpl) Close(ctx context.Context) error {
	return c.api.delete(ctx, fmt.Sprintf("/consumers/%s", c.id))
}
