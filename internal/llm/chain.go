package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

// ErrChainExhausted is returned after every model in the fallback chain
// failed within the total budget.
var ErrChainExhausted = errors.New("llm: model chain exhausted")

// Step binds a client to the model identifier it should be called with.
type Step struct {
	Client Client
	Model  string
}

// ChainClient tries a list of model identifiers in order, with a per-call
// timeout and a total budget across the whole chain. Once the chain is
// exhausted the error is terminal; nothing above it retries.
type ChainClient struct {
	steps       []Step
	callTimeout time.Duration
	totalBudget time.Duration
	logger      *logging.Logger
}

func NewChainClient(steps []Step, callTimeout, totalBudget time.Duration, logger *logging.Logger) *ChainClient {
	if len(steps) == 0 {
		panic("llm: at least one chain step required")
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if totalBudget <= 0 {
		totalBudget = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChainClient{steps: steps, callTimeout: callTimeout, totalBudget: totalBudget, logger: logger}
}

// Complete calls each step in order until one succeeds. The request's Model
// field is overridden per step.
func (c *ChainClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.totalBudget)
	defer cancel()

	var lastErr error
	for _, step := range c.steps {
		if ctx.Err() != nil {
			break
		}
		stepReq := req
		stepReq.Model = step.Model

		callCtx, callCancel := context.WithTimeout(ctx, c.callTimeout)
		resp, err := step.Client.Complete(callCtx, stepReq)
		callCancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("model call failed, trying next in chain",
			"model", step.Model,
			"error", err.Error(),
		)
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return Response{}, fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
}
