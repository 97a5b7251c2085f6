package centrallink

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/louaj-station/local-node/internal/apperr"
)

// pendingCall tracks a single in-flight request/response correlation for
// the staff_login and staff_verify request-style flows (spec.md §4.3).
type pendingCall struct {
	resultCh chan json.RawMessage
}

// pendingCalls is the correlation table, keyed by messageId.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]*pendingCall)}
}

func (p *pendingCalls) register(messageID string) *pendingCall {
	pc := &pendingCall{resultCh: make(chan json.RawMessage, 1)}
	p.mu.Lock()
	p.calls[messageID] = pc
	p.mu.Unlock()
	return pc
}

func (p *pendingCalls) resolve(messageID string, payload json.RawMessage) {
	p.mu.Lock()
	pc, ok := p.calls[messageID]
	if ok {
		delete(p.calls, messageID)
	}
	p.mu.Unlock()
	if ok {
		pc.resultCh <- payload
	}
}

func (p *pendingCalls) forget(messageID string) {
	p.mu.Lock()
	delete(p.calls, messageID)
	p.mu.Unlock()
}

// newMessageID mints a correlation id shaped "kind_<unixMs>_<rand>" (spec.md §4.3).
func newMessageID(kind string) string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1_000_000))
	return fmt.Sprintf("%s_%d_%d", kind, time.Now().UnixMilli(), n.Int64())
}

const requestTimeout = 30 * time.Second

// await blocks until the correlated response arrives or requestTimeout elapses.
func (p *pendingCalls) await(ctx context.Context, messageID string, pc *pendingCall) (json.RawMessage, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case payload := <-pc.resultCh:
		return payload, nil
	case <-timeoutCtx.Done():
		p.forget(messageID)
		return nil, apperr.New(apperr.CodeRequestTimedOut, "central did not respond in time")
	}
}
