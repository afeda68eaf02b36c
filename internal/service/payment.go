package service

import (
	"errors"
	"net/http"
	"time"

	"payment-engine/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// ChargeService exposes the charge operations over HTTP.
type ChargeService struct {
	charges *biz.ChargeUseCase
	log     *log.Helper
}

// NewChargeService creates the charge HTTP service.
func NewChargeService(charges *biz.ChargeUseCase, logger log.Logger) *ChargeService {
	return &ChargeService{
		charges: charges,
		log:     log.NewHelper(logger),
	}
}

type createChargeRequest struct {
	GrossAmount    float64 `json:"gross_amount"`
	BeneficiaryRef string  `json:"beneficiary_ref"`
	PayerRef       string  `json:"payer_ref"`
	SessionToken   string  `json:"session_token"`
	Method         string  `json:"method"`
	CardToken      string  `json:"card_token"`
	PayerEmail     string  `json:"payer_email"`
}

type createChargeReply struct {
	ChargeID    string     `json:"charge_id"`
	Status      string     `json:"status"`
	PixPayload  string     `json:"pix_payload,omitempty"`
	RedirectURL string     `json:"redirect_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type chargeStatusReply struct {
	ChargeID  string     `json:"charge_id"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type errorReply struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// CreateCharge handles POST /charges.
func (s *ChargeService) CreateCharge(ctx khttp.Context) error {
	var req createChargeRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorReply{Message: "invalid request body"})
	}

	idemKey := ctx.Request().Header.Get("X-Idempotency-Key")
	reply, err := s.charges.CreateCharge(ctx, &biz.CreateChargeRequest{
		GrossAmount:    req.GrossAmount,
		BeneficiaryRef: req.BeneficiaryRef,
		PayerRef:       req.PayerRef,
		SessionToken:   req.SessionToken,
		Method:         req.Method,
		CardToken:      req.CardToken,
		PayerEmail:     req.PayerEmail,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return s.writeChargeError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, createChargeReply{
		ChargeID:    reply.ChargeID,
		Status:      reply.Status,
		PixPayload:  reply.PixPayload,
		RedirectURL: reply.RedirectURL,
		ExpiresAt:   reply.ExpiresAt,
	})
}

// GetChargeStatus handles GET /charges/{id}/status.
func (s *ChargeService) GetChargeStatus(ctx khttp.Context) error {
	chargeID := ctx.Vars().Get("id")
	if chargeID == "" {
		return ctx.JSON(http.StatusBadRequest, errorReply{Message: "missing charge id"})
	}

	charge, err := s.charges.GetStatus(ctx, chargeID)
	if err != nil {
		var notFound *biz.NotFoundError
		if errors.As(err, &notFound) {
			return ctx.JSON(http.StatusNotFound, errorReply{Code: notFound.Code, Message: notFound.Message})
		}
		s.log.Errorf("GetChargeStatus failed: charge_id=%s, error=%v", chargeID, err)
		return ctx.JSON(http.StatusInternalServerError, errorReply{Message: "internal error"})
	}

	return ctx.JSON(http.StatusOK, chargeStatusReply{
		ChargeID:  charge.ChargeID,
		Status:    charge.Status,
		ExpiresAt: charge.ExpiresAt,
	})
}

func (s *ChargeService) writeChargeError(ctx khttp.Context, err error) error {
	var validation *biz.ValidationError
	if errors.As(err, &validation) {
		return ctx.JSON(http.StatusBadRequest, errorReply{Code: validation.Code, Message: validation.Message})
	}
	var notFound *biz.NotFoundError
	if errors.As(err, &notFound) {
		return ctx.JSON(http.StatusNotFound, errorReply{Code: notFound.Code, Message: notFound.Message})
	}
	var gateway *biz.GatewayError
	if errors.As(err, &gateway) {
		if gateway.Kind == biz.GatewayRejected {
			return ctx.JSON(http.StatusUnprocessableEntity, errorReply{Message: gateway.Message})
		}
		return ctx.JSON(http.StatusBadGateway, errorReply{Message: "payment provider unavailable"})
	}
	s.log.Errorf("CreateCharge failed: %v", err)
	return ctx.JSON(http.StatusInternalServerError, errorReply{Message: "internal error"})
}
