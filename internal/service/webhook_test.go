package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payment-engine/internal/biz"
	"payment-engine/internal/conf"
	"payment-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// stubRepo serves a single pending charge keyed by its external id.
type stubRepo struct {
	charge *biz.Charge
}

func (r *stubRepo) CreateCharge(context.Context, *biz.Charge) error { return nil }
func (r *stubRepo) GetChargeByID(context.Context, string) (*biz.Charge, error) {
	return r.charge, nil
}
func (r *stubRepo) GetChargeByExternalID(_ context.Context, externalID string) (*biz.Charge, error) {
	if r.charge != nil && r.charge.ExternalChargeID == externalID {
		return r.charge, nil
	}
	return nil, nil
}
func (r *stubRepo) GetChargeByExternalReference(context.Context, string) (*biz.Charge, error) {
	return nil, nil
}
func (r *stubRepo) GetChargeByIdempotencyKey(context.Context, string) (*biz.Charge, error) {
	return nil, nil
}
func (r *stubRepo) AttachGatewayResult(context.Context, string, *biz.GatewayChargeResult, string) error {
	return nil
}
func (r *stubRepo) ReassignExternalID(context.Context, string, string) error { return nil }
func (r *stubRepo) TransitionStatus(_ context.Context, _, status string) (*biz.Charge, bool, error) {
	applied := r.charge.Status == constants.ChargeStatusPending && status != constants.ChargeStatusPending
	if applied {
		r.charge.Status = status
	}
	return r.charge, applied, nil
}
func (r *stubRepo) ListExpiredPending(context.Context, time.Time, int) ([]*biz.Charge, error) {
	return nil, nil
}
func (r *stubRepo) ListStalePending(context.Context, time.Time, int) ([]*biz.Charge, error) {
	return nil, nil
}
func (r *stubRepo) ArchiveTerminalBefore(context.Context, time.Time) (int64, error) { return 0, nil }

// stubGateway is a scriptable adapter plus verifier.
type stubGateway struct {
	verifyErr error
	event     *biz.WebhookEvent
	parseErr  error
}

func (g *stubGateway) Provider() string { return constants.ProviderMercadoPago }
func (g *stubGateway) CreateCharge(context.Context, *biz.GatewayChargeRequest) (*biz.GatewayChargeResult, error) {
	return nil, nil
}
func (g *stubGateway) QueryCharge(context.Context, string) (*biz.GatewayChargeResult, error) {
	return nil, nil
}
func (g *stubGateway) QueryByReference(context.Context, string) (*biz.GatewayChargeResult, error) {
	return nil, nil
}
func (g *stubGateway) VerifySignature(http.Header, []byte) error { return g.verifyErr }
func (g *stubGateway) ParseEvent([]byte, http.Header) (*biz.WebhookEvent, error) {
	return g.event, g.parseErr
}

type stubRegistry struct {
	gw *stubGateway
}

func (r *stubRegistry) ForMethod(string) (biz.GatewayAdapter, error)    { return r.gw, nil }
func (r *stubRegistry) ForProvider(string) (biz.GatewayAdapter, error)  { return r.gw, nil }
func (r *stubRegistry) VerifierFor(string) (biz.WebhookVerifier, error) { return r.gw, nil }

func newWebhookService(gw *stubGateway, repo *stubRepo) *WebhookService {
	logger := log.NewStdLogger(io.Discard)
	uc := biz.NewReconcileUseCase(repo, &stubRegistry{gw: gw}, nil, nil, &conf.Bootstrap{}, logger)
	return NewWebhookService(uc, logger)
}

func pendingCharge() *biz.Charge {
	return &biz.Charge{
		ChargeID:         "c1",
		ExternalChargeID: "mp-1",
		Status:           constants.ChargeStatusPending,
	}
}

func TestHandleWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		gw       *stubGateway
		repo     *stubRepo
		wantCode int
	}{
		{
			name: "processed approval returns 200",
			gw: &stubGateway{event: &biz.WebhookEvent{
				Relevant:   true,
				ExternalID: "mp-1",
				Status:     constants.ChargeStatusApproved,
			}},
			repo:     &stubRepo{charge: pendingCharge()},
			wantCode: http.StatusOK,
		},
		{
			name:     "invalid signature returns 401",
			gw:       &stubGateway{verifyErr: fmt.Errorf("signature mismatch")},
			repo:     &stubRepo{charge: pendingCharge()},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "malformed payload returns 400",
			gw:       &stubGateway{parseErr: fmt.Errorf("bad json")},
			repo:     &stubRepo{charge: pendingCharge()},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown charge returns 404",
			gw: &stubGateway{event: &biz.WebhookEvent{
				Relevant:   true,
				ExternalID: "mp-ghost",
				Status:     constants.ChargeStatusApproved,
			}},
			repo:     &stubRepo{},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "irrelevant event returns 200",
			gw:       &stubGateway{event: &biz.WebhookEvent{Type: "plan.updated"}},
			repo:     &stubRepo{charge: pendingCharge()},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newWebhookService(tt.gw, tt.repo)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()

			svc.HandleMercadoPago(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d (body: %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type: got %q", ct)
			}
		})
	}
}

func TestHandleWebhook_DuplicateDeliveryStays200(t *testing.T) {
	gw := &stubGateway{event: &biz.WebhookEvent{
		Relevant:   true,
		ExternalID: "mp-1",
		Status:     constants.ChargeStatusApproved,
	}}
	repo := &stubRepo{charge: pendingCharge()}
	svc := newWebhookService(gw, repo)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		svc.HandleMercadoPago(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: got %d, want 200", i, rec.Code)
		}
	}
	if !strings.Contains(repo.charge.Status, constants.ChargeStatusApproved) {
		t.Errorf("charge status: got %s", repo.charge.Status)
	}
}
