package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telemeet/sfu-coordinator/internal/errors"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

const apiTimeout = 10 * time.Second

// apiImpl talks to the media routing engine over its REST control API.
type apiImpl struct {
	baseURL string
	client  *resty.Client
	logger  *log.Logger
}

// New creates an engine API binding backed by go-resty.
func New(baseURL string, logger *log.Logger) API {
	if logger == nil {
		panic("logger is required")
	}
	return &apiImpl{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetTimeout(apiTimeout),
		logger: logger,
	}
}

type routerPayload struct {
	ID              string          `json:"id"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type producerPayload struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

type consumerPayload struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          Kind            `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type canConsumePayload struct {
	CanConsume bool `json:"canConsume"`
}

func (api *apiImpl) CreateRouter(ctx context.Context, codecConfig json.RawMessage) (Router, error) {
	var payload routerPayload
	err := api.post(ctx, "/routers", map[string]any{
		"codecConfig": codecConfig,
	}, &payload)
	if err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, errors.New(ErrInvalidPayload, "create router response missing id")
	}
	return &routerImpl{
		api:     api,
		id:      payload.ID,
		rtpCaps: payload.RtpCapabilities,
	}, nil
}

func (api *apiImpl) Ping(ctx context.Context) error {
	resp, err := api.client.R().
		SetContext(ctx).
		Get(api.baseURL + "/status")
	if err != nil {
		return errors.Wrap(ErrFailedRequest, err, "engine status request failed")
	}
	if resp.IsError() {
		return errors.Newf(ErrNoneSuccessResponse, "engine status: http %d", resp.StatusCode())
	}
	return nil
}

func (api *apiImpl) post(ctx context.Context, path string, body, result any) error {
	api.logger.Debug("engine req", log.String("path", path))
	engineRequests.Add(ctx, 1)

	resp, err := api.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		Post(api.baseURL + path)
	if err != nil {
		engineFailures.Add(ctx, 1)
		return errors.Wrap(ErrFailedRequest, err, "engine request failed")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return errors.Newf(ErrNotFound, "engine object not found: %s", path)
	}
	if resp.IsError() {
		engineFailures.Add(ctx, 1)
		return errors.Newf(ErrNoneSuccessResponse, "engine http error: (code %d, path %s)", resp.StatusCode(), path)
	}

	api.logger.Debug("engine resp", log.String("path", path), log.Int("status", resp.StatusCode()))
	return nil
}

// delete removes an engine object; a 404 means it is already gone, which
// keeps Close idempotent.
func (api *apiImpl) delete(ctx context.Context, path string) error {
	engineRequests.Add(ctx, 1)
	resp, err := api.client.R().
		SetContext(ctx).
		Delete(api.baseURL + path)
	if err != nil {
		engineFailures.Add(ctx, 1)
		return errors.Wrap(ErrFailedRequest, err, "engine delete failed")
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		engineFailures.Add(ctx, 1)
		return errors.Newf(ErrNoneSuccessResponse, "engine http error: (code %d, path %s)", resp.StatusCode(), path)
	}
	return nil
}
