package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/flamehq/flame-node-sdk/common/broker"
	"github.com/flamehq/flame-node-sdk/common/logger"
)

// API raises the broker client (C3) into the send/await/clear surface used
// by the star orchestrator and user code (C8). It is the only component
// other than C3 itself allowed to touch MessageLog, and it does so only
// through the broker client's methods (spec.md §3 ownership rule).
type API struct {
	broker *broker.Client
	log    *logger.Logger
}

// NewAPI wraps a broker client.
func NewAPI(brokerClient *broker.Client, log *logger.Logger) *API {
	return &API{broker: brokerClient, log: log}
}

type sendConfig struct {
	maxAttempts       int
	totalTimeout      time.Duration // 0 == infinite
	perAttemptTimeout time.Duration
}

func defaultSendConfig() sendConfig {
	return sendConfig{
		maxAttempts:       1,
		totalTimeout:      0,
		perAttemptTimeout: 10 * time.Second,
	}
}

// SendOption configures SendMessage.
type SendOption func(*sendConfig)

// WithMaxAttempts sets the number of send attempts.
func WithMaxAttempts(n int) SendOption {
	return func(c *sendConfig) { c.maxAttempts = n }
}

// WithTotalTimeout sets an overall budget for all attempts combined. Zero
// (the default) means no overall budget.
func WithTotalTimeout(d time.Duration) SendOption {
	return func(c *sendConfig) { c.totalTimeout = d }
}

// WithPerAttemptTimeout sets how long a single attempt waits for
// acknowledgements when no total timeout is given.
func WithPerAttemptTimeout(d time.Duration) SendOption {
	return func(c *sendConfig) { c.perAttemptTimeout = d }
}

// SendMessage sends body to receivers under category, retrying unacked
// receivers up to maxAttempts times. Per-receiver failure is never raised:
// it surfaces structurally in notAcked (spec.md §4.3, §7).
func (a *API) SendMessage(ctx context.Context, receivers []string, category string, body map[string]any, opts ...SendOption) (acked []string, notAcked []string, err error) {
	cfg := defaultSendConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	pending := make(map[string]bool, len(receivers))
	for _, r := range receivers {
		pending[r] = true
	}

	for attempt := 1; attempt <= cfg.maxAttempts && len(pending) > 0; attempt++ {
		receiverList := make([]string, 0, len(pending))
		for r := range pending {
			receiverList = append(receiverList, r)
		}

		msg, sendErr := a.broker.Send(ctx, receiverList, category, body)
		if sendErr != nil {
			a.log.Warn("messaging: send attempt failed, will retry", "attempt", attempt, "error", sendErr)
			continue
		}

		attemptCtx, cancel := attemptContext(ctx, cfg, attempt)
		ackedCh := make(chan string, len(receiverList))
		var wg sync.WaitGroup
		for _, r := range receiverList {
			wg.Add(1)
			go func(receiver string) {
				defer wg.Done()
				if ackErr := a.broker.AwaitAcknowledgement(attemptCtx, msg.Meta.ID, receiver); ackErr == nil {
					ackedCh <- receiver
				}
			}(r)
		}
		wg.Wait()
		close(ackedCh)
		cancel()

		for r := range ackedCh {
			delete(pending, r)
			acked = append(acked, r)
		}
	}

	for r := range pending {
		notAcked = append(notAcked, r)
	}
	return acked, notAcked, nil
}

// attemptContext computes the per-attempt deadline: totalTimeout/maxAttempts
// when a finite total budget is given; otherwise perAttemptTimeout, except
// the final attempt waits forever when totalTimeout is infinite and there
// is more than one attempt (spec.md §4.3).
func attemptContext(ctx context.Context, cfg sendConfig, attempt int) (context.Context, context.CancelFunc) {
	if cfg.totalTimeout > 0 {
		return context.WithTimeout(ctx, cfg.totalTimeout/time.Duration(cfg.maxAttempts))
	}
	if cfg.maxAttempts > 1 && attempt == cfg.maxAttempts {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.perAttemptTimeout)
}

// AwaitMessages spawns one AwaitMessage per sender and returns after all
// complete or timeout elapses (0 == infinite). Every returned message is
// marked read; absent senders map to a nil slice.
func (a *API) AwaitMessages(ctx context.Context, senders []string, category, messageID string, timeout time.Duration) map[string][]broker.Message {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make(map[string][]broker.Message, len(senders))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, sender := range senders {
		wg.Add(1)
		go func(senderID string) {
			defer wg.Done()
			_, matches, err := a.broker.AwaitMessage(waitCtx, senderID, category, messageID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[senderID] = nil
				return
			}
			results[senderID] = matches
		}(sender)
	}
	wg.Wait()

	var allIDs []string
	for _, msgs := range results {
		for _, msg := range msgs {
			allIDs = append(allIDs, msg.Meta.ID)
		}
	}
	a.broker.Log().MarkRead(allIDs)

	return results
}

// SendAndAwait sends then awaits responses under the same category, using
// the remaining time budget for the await phase.
func (a *API) SendAndAwait(ctx context.Context, receivers []string, category string, body map[string]any, awaitTimeout time.Duration, opts ...SendOption) (acked, notAcked []string, responses map[string][]broker.Message, err error) {
	acked, notAcked, err = a.SendMessage(ctx, receivers, category, body, opts...)
	if err != nil {
		return acked, notAcked, nil, err
	}
	responses = a.AwaitMessages(ctx, acked, category, "", awaitTimeout)
	return acked, notAcked, responses, nil
}

// GetMessages returns every incoming message with the given status. An
// empty status returns all incoming messages.
func (a *API) GetMessages(status broker.Status) []broker.Message {
	all := a.broker.Log().Messages(broker.DirectionIncoming)
	if status == "" {
		return all
	}
	filtered := make([]broker.Message, 0, len(all))
	for _, msg := range all {
		if msg.Meta.Status == status {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// DeleteByID removes messages with the given ids from both logs.
func (a *API) DeleteByID(ids []string) {
	for _, id := range ids {
		a.broker.DeleteByID(id, broker.DirectionIncoming)
		a.broker.DeleteByID(id, broker.DirectionOutgoing)
	}
}

// Clear removes matching messages from both logs.
func (a *API) Clear(status broker.Status, minAge time.Duration) {
	a.broker.Clear(broker.DirectionIncoming, status, minAge)
	a.broker.Clear(broker.DirectionOutgoing, status, minAge)
}
