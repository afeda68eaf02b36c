package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"payment-engine/internal/biz"
	"payment-engine/internal/conf"
	"payment-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

func newTestMPClient(t *testing.T, baseURL string) *MercadoPagoClient {
	t.Helper()
	client, err := NewMercadoPagoClient(&conf.Bootstrap{
		Gateway: &conf.Gateway{
			Mercadopago: &conf.MercadoPago{
				BaseUrl:       baseURL,
				AccessToken:   "TEST-token",
				WebhookSecret: "mp-secret",
				Timeout:       "2s",
			},
		},
	}, log.NewStdLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewMercadoPagoClient failed: %v", err)
	}
	return client
}

func TestMercadoPago_CreatePixCharge(t *testing.T) {
	var gotIdemKey string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotIdemKey = r.Header.Get("X-Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": 12345,
			"status": "pending",
			"external_reference": "TOCAAAAAAAAAAAAAAAAAAAAAA",
			"date_of_expiration": "2026-09-01T15:30:00.000-03:00",
			"point_of_interaction": {"transaction_data": {"qr_code": "000201qrdata"}}
		}`)
	}))
	defer srv.Close()

	client := newTestMPClient(t, srv.URL)
	result, err := client.CreateCharge(context.Background(), &biz.GatewayChargeRequest{
		IdempotencyKey:    "idem-1",
		ExternalReference: "TOCAAAAAAAAAAAAAAAAAAAAAA",
		Method:            constants.MethodPix,
		Amount:            25.50,
		Description:       "Gorjeta",
	})
	if err != nil {
		t.Fatalf("CreateCharge failed: %v", err)
	}

	if gotIdemKey != "idem-1" {
		t.Errorf("idempotency key header: got %q", gotIdemKey)
	}
	if gotBody["payment_method_id"] != "pix" {
		t.Errorf("payment_method_id: got %v", gotBody["payment_method_id"])
	}
	if gotBody["transaction_amount"] != 25.50 {
		t.Errorf("transaction_amount: got %v", gotBody["transaction_amount"])
	}

	if result.ExternalID != "12345" {
		t.Errorf("external id: got %s", result.ExternalID)
	}
	if result.Status != constants.ChargeStatusPending || !result.Ambiguous {
		t.Errorf("pending remote state must map ambiguous, got %s/%v", result.Status, result.Ambiguous)
	}
	if result.QRData != "000201qrdata" {
		t.Errorf("qr data: got %q", result.QRData)
	}
	if result.ExpiresAt == nil {
		t.Error("expiry must be parsed")
	}
}

func TestMercadoPago_CreateCharge_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "bad_request", "message": "invalid card token"}`)
	}))
	defer srv.Close()

	client := newTestMPClient(t, srv.URL)
	_, err := client.CreateCharge(context.Background(), &biz.GatewayChargeRequest{
		Method:    constants.MethodCard,
		CardToken: "tok_bad",
		Amount:    10,
	})

	var gwErr *biz.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Kind != biz.GatewayRejected {
		t.Errorf("kind: got %s, want rejected", gwErr.Kind)
	}
	if gwErr.Code != "bad_request" {
		t.Errorf("code: got %s", gwErr.Code)
	}
}

func TestMercadoPago_CreateCharge_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestMPClient(t, srv.URL)
	_, err := client.CreateCharge(context.Background(), &biz.GatewayChargeRequest{
		Method: constants.MethodPix,
		Amount: 10,
	})

	var gwErr *biz.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != biz.GatewayUnavailable {
		t.Fatalf("expected unavailable gateway error, got %v", err)
	}
}

func TestMercadoPago_QueryCharge_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestMPClient(t, srv.URL)
	result, err := client.QueryCharge(context.Background(), "999")
	if err != nil {
		t.Fatalf("QueryCharge failed: %v", err)
	}
	if result != nil {
		t.Errorf("unknown charge must yield a nil result, got %+v", result)
	}
}

func TestMercadoPago_QueryByReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("external_reference"); got != "TOCAREF" {
			t.Errorf("external_reference param: got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results": [{"id": 777, "status": "approved", "external_reference": "TOCAREF"}]}`)
	}))
	defer srv.Close()

	client := newTestMPClient(t, srv.URL)
	result, err := client.QueryByReference(context.Background(), "TOCAREF")
	if err != nil {
		t.Fatalf("QueryByReference failed: %v", err)
	}
	if result == nil || result.ExternalID != "777" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Status != constants.ChargeStatusApproved || result.Ambiguous {
		t.Errorf("approved must map terminal, got %s/%v", result.Status, result.Ambiguous)
	}
}

func signMPWebhook(secret, dataID, requestID, ts string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestMercadoPago_VerifySignature(t *testing.T) {
	client := newTestMPClient(t, "http://unused")
	body := []byte(`{"type": "payment", "data": {"id": 12345}}`)

	t.Run("valid", func(t *testing.T) {
		v1 := signMPWebhook("mp-secret", "12345", "req-1", "1756700000")
		header := http.Header{}
		header.Set("x-signature", "ts=1756700000,v1="+v1)
		header.Set("x-request-id", "req-1")
		if err := client.VerifySignature(header, body); err != nil {
			t.Errorf("valid signature rejected: %v", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		v1 := signMPWebhook("mp-secret", "12345", "req-1", "1756700000")
		header := http.Header{}
		header.Set("x-signature", "ts=1756700000,v1="+v1)
		header.Set("x-request-id", "req-1")
		tampered := []byte(`{"type": "payment", "data": {"id": 99999}}`)
		if err := client.VerifySignature(header, tampered); err == nil {
			t.Error("tampered body must be rejected")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		v1 := signMPWebhook("other-secret", "12345", "req-1", "1756700000")
		header := http.Header{}
		header.Set("x-signature", "ts=1756700000,v1="+v1)
		header.Set("x-request-id", "req-1")
		if err := client.VerifySignature(header, body); err == nil {
			t.Error("signature from a wrong secret must be rejected")
		}
	})

	t.Run("missing header", func(t *testing.T) {
		if err := client.VerifySignature(http.Header{}, body); err == nil {
			t.Error("missing signature header must be rejected")
		}
	})
}

func TestMercadoPago_ParseEvent(t *testing.T) {
	client := newTestMPClient(t, "http://unused")

	t.Run("payment event is relevant and ambiguous", func(t *testing.T) {
		event, err := client.ParseEvent([]byte(`{"id": 1, "type": "payment", "data": {"id": 12345}}`), nil)
		if err != nil {
			t.Fatalf("ParseEvent failed: %v", err)
		}
		if !event.Relevant {
			t.Error("payment event must be relevant")
		}
		if event.ExternalID != "12345" {
			t.Errorf("external id: got %s", event.ExternalID)
		}
		if !event.Ambiguous {
			t.Error("mercadopago events carry no status and must be ambiguous")
		}
	})

	t.Run("other event types are ignored", func(t *testing.T) {
		event, err := client.ParseEvent([]byte(`{"id": 2, "type": "plan", "data": {"id": 1}}`), nil)
		if err != nil {
			t.Fatalf("ParseEvent failed: %v", err)
		}
		if event.Relevant {
			t.Error("non-payment events must be ignored")
		}
	})

	t.Run("malformed body errors", func(t *testing.T) {
		if _, err := client.ParseEvent([]byte(`{`), nil); err == nil {
			t.Error("malformed body must error")
		}
	})
}

func TestMapMercadoPagoStatus(t *testing.T) {
	tests := []struct {
		remote    string
		want      string
		ambiguous bool
	}{
		{"approved", constants.ChargeStatusApproved, false},
		{"rejected", constants.ChargeStatusRejected, false},
		{"cancelled", constants.ChargeStatusRejected, false},
		{"expired", constants.ChargeStatusExpired, false},
		{"pending", constants.ChargeStatusPending, true},
		{"in_process", constants.ChargeStatusPending, true},
		{"somethingnew", "", true},
	}
	for _, tt := range tests {
		got, ambiguous := mapMercadoPagoStatus(tt.remote)
		if got != tt.want || ambiguous != tt.ambiguous {
			t.Errorf("%s: got (%s, %v), want (%s, %v)", tt.remote, got, ambiguous, tt.want, tt.ambiguous)
		}
	}
}
