package biz

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"payment-engine/internal/conf"
	"payment-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

func newChargeUseCase(repo *fakeChargeRepo, adapter *fakeAdapter, pub *fakePublisher) *ChargeUseCase {
	directory := &fakeDirectory{beneficiaries: map[string]*Beneficiary{
		"ben-free": {BeneficiaryID: "ben-free", Tier: constants.TierFree, Active: true},
		"ben-pro":  {BeneficiaryID: "ben-pro", Tier: constants.TierPro, Active: true},
		"ben-off":  {BeneficiaryID: "ben-off", Tier: constants.TierFree, Active: false},
	}}
	bc := &conf.Bootstrap{Payment: &conf.Payment{
		PixKey:       "a1b2c3d4-e5f6-7a8b-9c0d-1e2f3a4b5c6d",
		PixKeyType:   "aleatoria",
		MerchantName: "Toca Mais",
		MerchantCity: "Sao Paulo",
	}}
	return NewChargeUseCase(repo, directory, &fakeRegistry{adapter: adapter}, NewFeePolicy(bc), pub, bc, log.NewStdLogger(io.Discard))
}

func pixRequest() *CreateChargeRequest {
	return &CreateChargeRequest{
		GrossAmount:    100.00,
		BeneficiaryRef: "ben-free",
		PayerRef:       "payer-1",
		Method:         constants.MethodPix,
		IdempotencyKey: "idem-1",
	}
}

func TestCreateCharge_PixFreeTier(t *testing.T) {
	repo := newFakeChargeRepo()
	expires := time.Now().Add(30 * time.Minute)
	adapter := &fakeAdapter{
		provider: constants.ProviderMercadoPago,
		createResult: &GatewayChargeResult{
			Provider:   constants.ProviderMercadoPago,
			ExternalID: "mp-100",
			Status:     constants.ChargeStatusPending,
			Ambiguous:  true,
			QRData:     "000201...",
			ExpiresAt:  &expires,
		},
	}
	uc := newChargeUseCase(repo, adapter, &fakePublisher{})

	reply, err := uc.CreateCharge(context.Background(), pixRequest())
	if err != nil {
		t.Fatalf("CreateCharge failed: %v", err)
	}
	if reply.Status != constants.ChargeStatusPending {
		t.Errorf("status: got %s, want pending", reply.Status)
	}
	if reply.PixPayload == "" {
		t.Error("pix charge must carry a payload")
	}
	if reply.ExpiresAt == nil {
		t.Error("pix charge must carry an expiry")
	}

	stored, _ := repo.GetChargeByID(context.Background(), reply.ChargeID)
	if stored == nil {
		t.Fatal("charge not persisted")
	}
	if stored.FeeAmount != 20.00 || stored.NetAmount != 80.00 {
		t.Errorf("free tier split: got fee=%.2f net=%.2f, want 20.00/80.00", stored.FeeAmount, stored.NetAmount)
	}
	if !strings.HasPrefix(stored.ExternalReference, constants.ExternalReferencePrefix) {
		t.Errorf("external reference must carry the prefix: %q", stored.ExternalReference)
	}
	if len(stored.ExternalReference) != 25 {
		t.Errorf("external reference length: got %d, want 25", len(stored.ExternalReference))
	}
	if stored.ExternalChargeID != "mp-100" {
		t.Errorf("external id not attached: %q", stored.ExternalChargeID)
	}
}

func TestCreateCharge_ProTierPaysNoFee(t *testing.T) {
	repo := newFakeChargeRepo()
	adapter := &fakeAdapter{
		provider: constants.ProviderStripe,
		createResult: &GatewayChargeResult{
			Provider:    constants.ProviderStripe,
			ExternalID:  "cs_1",
			Status:      constants.ChargeStatusPending,
			Ambiguous:   true,
			RedirectURL: "https://checkout.stripe.com/pay/cs_1",
		},
	}
	uc := newChargeUseCase(repo, adapter, &fakePublisher{})

	reply, err := uc.CreateCharge(context.Background(), &CreateChargeRequest{
		GrossAmount:    50.00,
		BeneficiaryRef: "ben-pro",
		SessionToken:   "anon-1",
		Method:         constants.MethodCheckout,
		IdempotencyKey: "idem-pro",
	})
	if err != nil {
		t.Fatalf("CreateCharge failed: %v", err)
	}
	if reply.RedirectURL == "" {
		t.Error("checkout charge must carry a redirect URL")
	}

	stored, _ := repo.GetChargeByID(context.Background(), reply.ChargeID)
	if stored.FeeAmount != 0 || stored.NetAmount != 50.00 {
		t.Errorf("pro tier split: got fee=%.2f net=%.2f, want 0.00/50.00", stored.FeeAmount, stored.NetAmount)
	}
}

func TestCreateCharge_Validation(t *testing.T) {
	uc := newChargeUseCase(newFakeChargeRepo(), &fakeAdapter{}, &fakePublisher{})

	tests := []struct {
		name   string
		mutate func(*CreateChargeRequest)
	}{
		{"zero amount", func(r *CreateChargeRequest) { r.GrossAmount = 0 }},
		{"negative amount", func(r *CreateChargeRequest) { r.GrossAmount = -1 }},
		{"no payer identity", func(r *CreateChargeRequest) { r.PayerRef = "" }},
		{"both payer identities", func(r *CreateChargeRequest) { r.SessionToken = "anon" }},
		{"unknown method", func(r *CreateChargeRequest) { r.Method = "boleto" }},
		{"unknown beneficiary", func(r *CreateChargeRequest) { r.BeneficiaryRef = "ben-missing" }},
		{"inactive beneficiary", func(r *CreateChargeRequest) { r.BeneficiaryRef = "ben-off" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := pixRequest()
			tt.mutate(req)
			_, err := uc.CreateCharge(context.Background(), req)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCreateCharge_IdempotentReplay(t *testing.T) {
	repo := newFakeChargeRepo()
	adapter := &fakeAdapter{
		provider: constants.ProviderMercadoPago,
		createResult: &GatewayChargeResult{
			Provider:   constants.ProviderMercadoPago,
			ExternalID: "mp-1",
			Status:     constants.ChargeStatusPending,
			Ambiguous:  true,
			QRData:     "qr",
		},
	}
	uc := newChargeUseCase(repo, adapter, &fakePublisher{})

	first, err := uc.CreateCharge(context.Background(), pixRequest())
	if err != nil {
		t.Fatalf("first CreateCharge failed: %v", err)
	}
	second, err := uc.CreateCharge(context.Background(), pixRequest())
	if err != nil {
		t.Fatalf("second CreateCharge failed: %v", err)
	}
	if first.ChargeID != second.ChargeID {
		t.Errorf("replay created a new charge: %s vs %s", first.ChargeID, second.ChargeID)
	}
	if adapter.createCalls != 1 {
		t.Errorf("provider called %d times, want 1", adapter.createCalls)
	}
	if repo.creates != 1 {
		t.Errorf("repo insert called %d times, want 1", repo.creates)
	}
}

func TestCreateCharge_ResumesDispatchForStalledPending(t *testing.T) {
	repo := newFakeChargeRepo()
	adapter := &fakeAdapter{
		provider:  constants.ProviderMercadoPago,
		createErr: &GatewayError{Kind: GatewayUnavailable, Provider: constants.ProviderMercadoPago, Message: "timeout"},
	}
	uc := newChargeUseCase(repo, adapter, &fakePublisher{})

	// First attempt: provider down, record stays pending without an
	// external id.
	first, err := uc.CreateCharge(context.Background(), pixRequest())
	if first != nil || err == nil {
		t.Fatalf("expected gateway error, got reply=%v err=%v", first, err)
	}

	var pendingID string
	if c, _ := repo.GetChargeByIdempotencyKey(context.Background(), "idem-1"); c != nil {
		pendingID = c.ChargeID
		if c.Status != constants.ChargeStatusPending {
			t.Fatalf("record must stay pending for the orphan sweep, got %s", c.Status)
		}
	} else {
		t.Fatal("pending record must survive a gateway outage")
	}

	// Retry with the same key: the provider recovered, the original record
	// is dispatched instead of a new one.
	adapter.createErr = nil
	adapter.createResult = &GatewayChargeResult{
		Provider:   constants.ProviderMercadoPago,
		ExternalID: "mp-2",
		Status:     constants.ChargeStatusPending,
		Ambiguous:  true,
		QRData:     "qr",
	}
	reply, err := uc.CreateCharge(context.Background(), pixRequest())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if reply.ChargeID != pendingID {
		t.Errorf("retry created a new charge: %s vs %s", reply.ChargeID, pendingID)
	}
	if repo.creates != 1 {
		t.Errorf("repo insert called %d times, want 1", repo.creates)
	}
}

func TestCreateCharge_RejectedIsTerminal(t *testing.T) {
	repo := newFakeChargeRepo()
	adapter := &fakeAdapter{
		provider:  constants.ProviderMercadoPago,
		createErr: &GatewayError{Kind: GatewayRejected, Provider: constants.ProviderMercadoPago, Code: "cc_rejected", Message: "card declined"},
	}
	uc := newChargeUseCase(repo, adapter, &fakePublisher{})

	req := pixRequest()
	req.Method = constants.MethodCard
	req.CardToken = "tok_1"
	_, err := uc.CreateCharge(context.Background(), req)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != GatewayRejected {
		t.Fatalf("expected rejected gateway error, got %v", err)
	}

	stored, _ := repo.GetChargeByIdempotencyKey(context.Background(), "idem-1")
	if stored == nil || stored.Status != constants.ChargeStatusRejected {
		t.Errorf("declined charge must be recorded rejected, got %+v", stored)
	}
}

func TestCreateCharge_InstantApprovalPublishesEvent(t *testing.T) {
	repo := newFakeChargeRepo()
	adapter := &fakeAdapter{
		provider: constants.ProviderMercadoPago,
		createResult: &GatewayChargeResult{
			Provider:   constants.ProviderMercadoPago,
			ExternalID: "mp-3",
			Status:     constants.ChargeStatusApproved,
		},
	}
	pub := &fakePublisher{}
	uc := newChargeUseCase(repo, adapter, pub)

	req := pixRequest()
	req.Method = constants.MethodCard
	req.CardToken = "tok_ok"
	reply, err := uc.CreateCharge(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateCharge failed: %v", err)
	}
	if reply.Status != constants.ChargeStatusApproved {
		t.Errorf("status: got %s, want approved", reply.Status)
	}
	if pub.count() != 1 {
		t.Errorf("approved event published %d times, want 1", pub.count())
	}
}

func TestGetStatus(t *testing.T) {
	repo := newFakeChargeRepo()
	adapter := &fakeAdapter{
		provider: constants.ProviderMercadoPago,
		createResult: &GatewayChargeResult{
			Provider:   constants.ProviderMercadoPago,
			ExternalID: "mp-4",
			Status:     constants.ChargeStatusPending,
			Ambiguous:  true,
			QRData:     "qr",
		},
	}
	uc := newChargeUseCase(repo, adapter, &fakePublisher{})

	reply, err := uc.CreateCharge(context.Background(), pixRequest())
	if err != nil {
		t.Fatalf("CreateCharge failed: %v", err)
	}

	charge, err := uc.GetStatus(context.Background(), reply.ChargeID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if charge.Status != constants.ChargeStatusPending {
		t.Errorf("status: got %s, want pending", charge.Status)
	}

	_, err = uc.GetStatus(context.Background(), "missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError for unknown id, got %v", err)
	}
}
