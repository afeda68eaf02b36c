package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"payment-engine/internal/biz"
	"payment-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// Webhook bodies are small JSON notifications; anything larger is abuse.
const maxWebhookBody = 1 << 20

// WebhookService receives provider notifications. Handlers are plain
// net/http because signature verification needs the raw request body.
type WebhookService struct {
	reconcile *biz.ReconcileUseCase
	log       *log.Helper
}

// NewWebhookService creates the webhook HTTP service.
func NewWebhookService(reconcile *biz.ReconcileUseCase, logger log.Logger) *WebhookService {
	return &WebhookService{
		reconcile: reconcile,
		log:       log.NewHelper(logger),
	}
}

// HandleMercadoPago handles POST /webhooks/mercadopago.
func (s *WebhookService) HandleMercadoPago(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, constants.ProviderMercadoPago)
}

// HandleStripe handles POST /webhooks/stripe.
func (s *WebhookService) HandleStripe(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, constants.ProviderStripe)
}

func (s *WebhookService) handle(w http.ResponseWriter, r *http.Request, provider string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Message: "unreadable body"})
		return
	}

	outcome, err := s.reconcile.HandleWebhook(r.Context(), provider, r.Header, body)
	if err != nil {
		var sigErr *biz.SignatureError
		if errors.As(err, &sigErr) {
			s.log.Warnf("webhook signature rejected: provider=%s", provider)
			writeJSON(w, http.StatusUnauthorized, errorReply{Message: "invalid signature"})
			return
		}
		var payloadErr *biz.MalformedPayloadError
		if errors.As(err, &payloadErr) {
			writeJSON(w, http.StatusBadRequest, errorReply{Message: "malformed payload"})
			return
		}
		var notFound *biz.NotFoundError
		if errors.As(err, &notFound) {
			writeJSON(w, http.StatusNotFound, errorReply{Code: notFound.Code, Message: notFound.Message})
			return
		}
		s.log.Errorf("webhook processing failed: provider=%s, error=%v", provider, err)
		writeJSON(w, http.StatusInternalServerError, errorReply{Message: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"result":    outcome.Result,
		"charge_id": outcome.ChargeID,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
