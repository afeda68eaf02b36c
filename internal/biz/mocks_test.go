package biz

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"payment-engine/internal/constants"
)

// fakeChargeRepo is an in-memory ChargeRepo with the same write-once
// transition semantics as the real store.
type fakeChargeRepo struct {
	mu      sync.Mutex
	charges map[string]*Charge

	createErr error
	creates   int
}

func newFakeChargeRepo() *fakeChargeRepo {
	return &fakeChargeRepo{charges: map[string]*Charge{}}
}

func (r *fakeChargeRepo) CreateCharge(_ context.Context, charge *Charge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.charges {
		if existing.IdempotencyKey == charge.IdempotencyKey {
			return fmt.Errorf("duplicate idempotency key")
		}
	}
	cp := *charge
	cp.CreatedAt = time.Now()
	r.charges[charge.ChargeID] = &cp
	return nil
}

func (r *fakeChargeRepo) GetChargeByID(_ context.Context, chargeID string) (*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.charges[chargeID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeChargeRepo) GetChargeByExternalID(_ context.Context, externalID string) (*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.charges {
		if c.ExternalChargeID == externalID && externalID != "" {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeChargeRepo) GetChargeByExternalReference(_ context.Context, reference string) (*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.charges {
		if c.ExternalReference == reference && reference != "" {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeChargeRepo) GetChargeByIdempotencyKey(_ context.Context, key string) (*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.charges {
		if c.IdempotencyKey == key && key != "" {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeChargeRepo) AttachGatewayResult(_ context.Context, chargeID string, result *GatewayChargeResult, pixPayload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[chargeID]
	if !ok {
		return fmt.Errorf("charge %s not found", chargeID)
	}
	c.Provider = result.Provider
	c.ExternalChargeID = result.ExternalID
	c.RedirectURL = result.RedirectURL
	c.PixPayload = pixPayload
	if result.ExpiresAt != nil {
		c.ExpiresAt = result.ExpiresAt
	}
	return nil
}

func (r *fakeChargeRepo) ReassignExternalID(_ context.Context, chargeID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[chargeID]
	if !ok {
		return fmt.Errorf("charge %s not found", chargeID)
	}
	c.ExternalChargeID = externalID
	return nil
}

func (r *fakeChargeRepo) TransitionStatus(_ context.Context, chargeID, status string) (*Charge, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[chargeID]
	if !ok {
		return nil, false, fmt.Errorf("charge %s not found", chargeID)
	}
	if status == constants.ChargeStatusPending || c.Status != constants.ChargeStatusPending {
		cp := *c
		return &cp, false, nil
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, true, nil
}

func (r *fakeChargeRepo) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Charge
	for _, c := range r.charges {
		if c.Status == constants.ChargeStatusPending && c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			cp := *c
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeChargeRepo) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Charge
	for _, c := range r.charges {
		if c.Status == constants.ChargeStatusPending && !c.CreatedAt.After(olderThan) {
			cp := *c
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeChargeRepo) ArchiveTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	now := time.Now()
	for _, c := range r.charges {
		if c.Status != constants.ChargeStatusPending && c.ArchivedAt == nil && !c.UpdatedAt.After(cutoff) {
			archived := now
			c.ArchivedAt = &archived
			count++
		}
	}
	return count, nil
}

func (r *fakeChargeRepo) status(chargeID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.charges[chargeID]; ok {
		return c.Status
	}
	return ""
}

// fakeDirectory resolves beneficiaries from a fixed map.
type fakeDirectory struct {
	beneficiaries map[string]*Beneficiary
}

func (d *fakeDirectory) GetBeneficiary(_ context.Context, id string) (*Beneficiary, error) {
	return d.beneficiaries[id], nil
}

// fakeAdapter is a scriptable GatewayAdapter and WebhookVerifier.
type fakeAdapter struct {
	provider string

	createResult *GatewayChargeResult
	createErr    error
	createCalls  int

	queryResults []*GatewayChargeResult // consumed in order, last repeats
	queryErr     error
	queryCalls   int

	refResult *GatewayChargeResult

	verifyErr  error
	parseEvent *WebhookEvent
	parseErr   error
}

func (a *fakeAdapter) Provider() string { return a.provider }

func (a *fakeAdapter) CreateCharge(_ context.Context, req *GatewayChargeRequest) (*GatewayChargeResult, error) {
	a.createCalls++
	if a.createErr != nil {
		return nil, a.createErr
	}
	result := *a.createResult
	if result.ExternalReference == "" {
		result.ExternalReference = req.ExternalReference
	}
	return &result, nil
}

func (a *fakeAdapter) QueryCharge(_ context.Context, _ string) (*GatewayChargeResult, error) {
	a.queryCalls++
	if a.queryErr != nil {
		return nil, a.queryErr
	}
	if len(a.queryResults) == 0 {
		return nil, nil
	}
	result := a.queryResults[0]
	if len(a.queryResults) > 1 {
		a.queryResults = a.queryResults[1:]
	}
	return result, nil
}

func (a *fakeAdapter) QueryByReference(_ context.Context, _ string) (*GatewayChargeResult, error) {
	return a.refResult, nil
}

func (a *fakeAdapter) VerifySignature(_ http.Header, _ []byte) error {
	return a.verifyErr
}

func (a *fakeAdapter) ParseEvent(_ []byte, _ http.Header) (*WebhookEvent, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.parseEvent, nil
}

// fakeRegistry routes everything to a single adapter.
type fakeRegistry struct {
	adapter *fakeAdapter
}

func (r *fakeRegistry) ForMethod(string) (GatewayAdapter, error)    { return r.adapter, nil }
func (r *fakeRegistry) ForProvider(string) (GatewayAdapter, error)  { return r.adapter, nil }
func (r *fakeRegistry) VerifierFor(string) (WebhookVerifier, error) { return r.adapter, nil }

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []*ChargeApprovedEvent
	err    error
}

func (p *fakePublisher) PublishApproved(_ context.Context, event *ChargeApprovedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
