package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SandboxProvider keeps intents in memory. It backs local runs without processor
// credentials and the service tests.
type SandboxProvider struct {
	mu      sync.Mutex
	intents map[string]Intent
	clock   func() time.Time

	// FailCreate, when set, is returned by CreateIntent.
	FailCreate error
	// FailCancel, when set, is returned by CancelIntent.
	FailCancel error

	Created   []IntentRequest
	Cancelled []string
}

var _ Provider = (*SandboxProvider)(nil)

// NewSandboxProvider returns an empty sandbox.
func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{intents: map[string]Intent{}, clock: time.Now}
}

func (p *SandboxProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCreate != nil {
		return Intent{}, p.FailCreate
	}
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("sandbox: amount must be positive, got %d", req.Amount)
	}
	id := "pi_" + strings.ToLower(ulid.Make().String())
	intent := Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       req.Amount,
		Currency:     strings.ToLower(req.Currency),
		Status:       StatusPending,
		CreatedAt:    p.clock().UTC(),
	}
	p.intents[id] = intent
	p.Created = append(p.Created, req)
	return intent, nil
}

func (p *SandboxProvider) GetIntent(_ context.Context, intentID string) (Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[intentID]
	if !ok {
		return Intent{}, fmt.Errorf("sandbox: intent %s not found", intentID)
	}
	return intent, nil
}

func (p *SandboxProvider) CancelIntent(_ context.Context, intentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCancel != nil {
		return p.FailCancel
	}
	intent, ok := p.intents[intentID]
	if !ok {
		return fmt.Errorf("sandbox: intent %s not found", intentID)
	}
	if intent.Status == StatusSucceeded {
		return fmt.Errorf("sandbox: intent %s already captured", intentID)
	}
	intent.Status = StatusCancelled
	p.intents[intentID] = intent
	p.Cancelled = append(p.Cancelled, intentID)
	return nil
}

// Succeed marks an intent captured, as a processor callback would.
func (p *SandboxProvider) Succeed(intentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if intent, ok := p.intents[intentID]; ok {
		intent.Status = StatusSucceeded
		p.intents[intentID] = intent
	}
}
