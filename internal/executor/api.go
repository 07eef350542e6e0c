package executor

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/pkg/tasks"
)

// maxResponseBody caps how much of a response ends up in StatusMessage.
const maxResponseBody = 1 << 20

// APIExecutor performs the HTTP call described by an HTTPConfig.
type APIExecutor struct {
	client *http.Client
	logger lg.Logger
}

func NewAPIExecutor(logger lg.Logger, client *http.Client) *APIExecutor {
	if logger == nil {
		logger = lg.Discard
	}
	if client == nil {
		client = &http.Client{}
	}
	return &APIExecutor{client: client, logger: logger}
}

// Execute sends the request and returns a copy of cfg with StatusCode and
// StatusMessage filled in. It never fails: any error before a status is read
// yields StatusCode -1 and the error text as StatusMessage.
func (e *APIExecutor) Execute(ctx context.Context, cfg tasks.HTTPConfig) tasks.HTTPConfig {
	out := cfg
	logger := e.logger.With(lg.String("method", cfg.RequestMethod()), lg.String("url", cfg.URL))

	fail := func(err error) tasks.HTTPConfig {
		logger.Error("api call failed", lg.Err(err))
		out.StatusCode = -1
		out.StatusMessage = err.Error()
		return out
	}

	var body io.Reader
	if cfg.HasBody() {
		payload, err := cfg.Payload()
		if err != nil {
			return fail(err)
		}
		if payload != nil {
			body = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.RequestMethod(), cfg.URL, body)
	if err != nil {
		return fail(err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fail(err)
	}
	out.StatusCode = resp.StatusCode
	out.StatusMessage = string(data)
	logger.Info("api call completed", lg.Int("status", resp.StatusCode))
	return out
}
