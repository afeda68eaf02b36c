package biz

import (
	"context"
	"strings"
	"time"

	"payment-engine/internal/conf"
	"payment-engine/internal/constants"
	"payment-engine/internal/metrics"
	"payment-engine/internal/pix"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	paymentErrors "payment-engine/internal/errors"
)

// Charge is the ledger entity: one request to move money from a payer to a
// beneficiary. The internal ChargeID is the source-of-truth key; the
// provider-assigned ExternalChargeID may be reassigned once (checkout
// session id superseded by a payment intent id).
type Charge struct {
	ChargeID          string
	ExternalChargeID  string
	ExternalReference string
	IdempotencyKey    string
	Provider          string
	Method            string
	GrossAmount       float64
	FeeAmount         float64
	NetAmount         float64
	PayerRef          string
	SessionToken      string
	BeneficiaryRef    string
	BeneficiaryTier   string
	Status            string
	PixPayload        string
	RedirectURL       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ExpiresAt         *time.Time
	ArchivedAt        *time.Time
}

// Terminal reports whether the charge reached a write-once final status.
func (c *Charge) Terminal() bool {
	return c.Status != constants.ChargeStatusPending
}

// ChargeRepo is the ledger store interface, defined biz-side.
// TransitionStatus must be atomic against concurrent callers on the same
// record: the applied bool is true only for the single caller whose legal
// pending→terminal transition won; every other call is a no-op that returns
// the current record.
type ChargeRepo interface {
	CreateCharge(ctx context.Context, charge *Charge) error
	GetChargeByID(ctx context.Context, chargeID string) (*Charge, error)
	GetChargeByExternalID(ctx context.Context, externalID string) (*Charge, error)
	GetChargeByExternalReference(ctx context.Context, externalReference string) (*Charge, error)
	GetChargeByIdempotencyKey(ctx context.Context, key string) (*Charge, error)
	AttachGatewayResult(ctx context.Context, chargeID string, result *GatewayChargeResult, pixPayload string) error
	ReassignExternalID(ctx context.Context, chargeID, externalID string) error
	TransitionStatus(ctx context.Context, chargeID, status string) (*Charge, bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Charge, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Charge, error)
	ArchiveTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Beneficiary is the receiving party, owned by the profile service; this
// engine only reads activity and tier.
type Beneficiary struct {
	BeneficiaryID string
	DisplayName   string
	Tier          string
	Active        bool
}

// BeneficiaryDirectory resolves beneficiaries at charge creation time.
type BeneficiaryDirectory interface {
	GetBeneficiary(ctx context.Context, beneficiaryID string) (*Beneficiary, error)
}

// ChargeApprovedEvent is emitted after an approved transition; delivery and
// formatting belong to the notification system.
type ChargeApprovedEvent struct {
	ChargeID       string  `json:"charge_id"`
	BeneficiaryRef string  `json:"beneficiary_ref"`
	NetAmount      float64 `json:"net_amount"`
}

// EventPublisher hands domain events to the message broker.
type EventPublisher interface {
	PublishApproved(ctx context.Context, event *ChargeApprovedEvent) error
}

// CreateChargeRequest is the inbound create-charge contract.
type CreateChargeRequest struct {
	GrossAmount    float64
	BeneficiaryRef string
	PayerRef       string
	SessionToken   string
	Method         string
	CardToken      string
	PayerEmail     string
	IdempotencyKey string
}

// CreateChargeReply mirrors the wire response.
type CreateChargeReply struct {
	ChargeID    string
	Status      string
	PixPayload  string
	RedirectURL string
	ExpiresAt   *time.Time
}

// ChargeUseCase owns charge creation and status queries.
type ChargeUseCase struct {
	repo      ChargeRepo
	directory BeneficiaryDirectory
	registry  GatewayRegistry
	fees      *FeePolicy
	publisher EventPublisher
	conf      *conf.Payment
	log       *log.Helper
	metrics   *metrics.PaymentMetrics
}

// NewChargeUseCase creates the charge use case.
func NewChargeUseCase(
	repo ChargeRepo,
	directory BeneficiaryDirectory,
	registry GatewayRegistry,
	fees *FeePolicy,
	publisher EventPublisher,
	c *conf.Bootstrap,
	logger log.Logger,
) *ChargeUseCase {
	payment := &conf.Payment{}
	if c != nil && c.Payment != nil {
		payment = c.Payment
	}
	return &ChargeUseCase{
		repo:      repo,
		directory: directory,
		registry:  registry,
		fees:      fees,
		publisher: publisher,
		conf:      payment,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// CreateCharge validates the request, prices it, persists the pending ledger
// record and creates the remote charge. The pending record is written before
// the gateway call so that a local timeout leaves a correlatable record for
// the orphan sweep instead of an untracked remote charge.
func (uc *ChargeUseCase) CreateCharge(ctx context.Context, req *CreateChargeRequest) (*CreateChargeReply, error) {
	startTime := time.Now()

	if err := uc.validate(req); err != nil {
		uc.metrics.ChargeCreateTotal.WithLabelValues(req.Method, constants.ResultFailed).Inc()
		return nil, err
	}

	beneficiary, err := uc.resolveBeneficiary(ctx, req.BeneficiaryRef)
	if err != nil {
		uc.metrics.ChargeCreateTotal.WithLabelValues(req.Method, constants.ResultFailed).Inc()
		return nil, err
	}

	// Idempotent replay: a key we have seen yields the original record. A
	// pending record that never reached the provider resumes the gateway
	// call instead of double-creating.
	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = uuid.New().String()
	} else if existing, err := uc.repo.GetChargeByIdempotencyKey(ctx, idemKey); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.ExternalChargeID != "" || existing.Terminal() {
			uc.log.Infof("CreateCharge replayed: idempotency_key=%s, charge_id=%s", idemKey, existing.ChargeID)
			return replyFrom(existing), nil
		}
		return uc.dispatch(ctx, existing, req, startTime)
	}

	fee, net := uc.fees.Split(req.GrossAmount, beneficiary.Tier)
	if !Reconciles(req.GrossAmount, fee, net) {
		// Gross stays authoritative; the drift is observable, not fatal.
		uc.log.Warnf("fee split mismatch: gross=%.2f fee=%.2f net=%.2f", req.GrossAmount, fee, net)
		uc.metrics.ReconcileMismatch.Inc()
	}

	charge := &Charge{
		ChargeID:          uuid.New().String(),
		ExternalReference: newExternalReference(),
		IdempotencyKey:    idemKey,
		Method:            req.Method,
		GrossAmount:       req.GrossAmount,
		FeeAmount:         fee,
		NetAmount:         net,
		PayerRef:          req.PayerRef,
		SessionToken:      req.SessionToken,
		BeneficiaryRef:    beneficiary.BeneficiaryID,
		BeneficiaryTier:   beneficiary.Tier,
		Status:            constants.ChargeStatusPending,
	}
	if req.Method == constants.MethodPix {
		expires := time.Now().Add(uc.conf.GetPixExpiry())
		charge.ExpiresAt = &expires
	}

	if err := uc.repo.CreateCharge(ctx, charge); err != nil {
		// A concurrent request with the same key may have won the insert.
		if existing, lookupErr := uc.repo.GetChargeByIdempotencyKey(ctx, idemKey); lookupErr == nil && existing != nil {
			uc.log.Infof("CreateCharge raced: idempotency_key=%s, charge_id=%s", idemKey, existing.ChargeID)
			return replyFrom(existing), nil
		}
		uc.log.Errorf("CreateCharge persist failed: %v", err)
		uc.metrics.ChargeCreateTotal.WithLabelValues(req.Method, constants.ResultFailed).Inc()
		return nil, err
	}

	return uc.dispatch(ctx, charge, req, startTime)
}

// dispatch performs the outbound provider call for a pending local record
// and attaches the normalized result.
func (uc *ChargeUseCase) dispatch(ctx context.Context, charge *Charge, req *CreateChargeRequest, startTime time.Time) (*CreateChargeReply, error) {
	adapter, err := uc.registry.ForMethod(charge.Method)
	if err != nil {
		uc.metrics.ChargeCreateTotal.WithLabelValues(charge.Method, constants.ResultFailed).Inc()
		return nil, err
	}

	result, err := adapter.CreateCharge(ctx, &GatewayChargeRequest{
		IdempotencyKey:    charge.IdempotencyKey,
		ExternalReference: charge.ExternalReference,
		Method:            charge.Method,
		Amount:            charge.GrossAmount,
		Description:       "Gorjeta Toca+",
		CardToken:         req.CardToken,
		PayerEmail:        req.PayerEmail,
		ExpiresAt:         charge.ExpiresAt,
	})
	if err != nil {
		uc.log.Errorf("gateway create failed: charge_id=%s, error=%v", charge.ChargeID, err)
		uc.metrics.ChargeCreateTotal.WithLabelValues(charge.Method, constants.ResultFailed).Inc()
		if gwErr, ok := err.(*GatewayError); ok && gwErr.Kind == GatewayRejected {
			// Terminal decline: the record will never be paid.
			if _, _, trErr := uc.repo.TransitionStatus(ctx, charge.ChargeID, constants.ChargeStatusRejected); trErr != nil {
				uc.log.Errorf("reject transition failed: charge_id=%s, error=%v", charge.ChargeID, trErr)
			}
		}
		// GatewayUnavailable leaves the record pending; the orphan sweep
		// later resolves whether a remote charge was created anyway.
		return nil, err
	}

	charge.Provider = result.Provider
	charge.ExternalChargeID = result.ExternalID
	charge.RedirectURL = result.RedirectURL
	if result.ExpiresAt != nil {
		charge.ExpiresAt = result.ExpiresAt
	}

	if charge.Method == constants.MethodPix {
		charge.PixPayload = result.QRData
		if charge.PixPayload == "" {
			payload, encErr := uc.encodePixPayload(charge)
			if encErr != nil {
				uc.log.Errorf("pix encode failed: charge_id=%s, error=%v", charge.ChargeID, encErr)
			} else {
				charge.PixPayload = payload
			}
		}
	}

	if err := uc.repo.AttachGatewayResult(ctx, charge.ChargeID, result, charge.PixPayload); err != nil {
		uc.log.Errorf("attach gateway result failed: charge_id=%s, error=%v", charge.ChargeID, err)
		return nil, err
	}

	// Synchronous card charges may already be terminal.
	if result.Status != "" && result.Status != constants.ChargeStatusPending && !result.Ambiguous {
		updated, applied, err := uc.repo.TransitionStatus(ctx, charge.ChargeID, result.Status)
		if err != nil {
			return nil, err
		}
		charge = updated
		if applied && charge.Status == constants.ChargeStatusApproved {
			uc.publishApproved(ctx, charge)
		}
	}

	uc.metrics.ChargeCreateTotal.WithLabelValues(charge.Method, constants.ResultSuccess).Inc()
	uc.metrics.ChargeAmount.WithLabelValues(charge.Method).Add(charge.GrossAmount)
	uc.metrics.FeeAmount.Add(charge.FeeAmount)
	uc.metrics.ChargeCreateDuration.WithLabelValues(charge.Method).Observe(time.Since(startTime).Seconds())

	uc.log.Infof("charge created: charge_id=%s, provider=%s, external_id=%s, gross=%.2f, fee=%.2f",
		charge.ChargeID, charge.Provider, charge.ExternalChargeID, charge.GrossAmount, charge.FeeAmount)
	return replyFrom(charge), nil
}

// GetStatus returns the current status of a charge.
func (uc *ChargeUseCase) GetStatus(ctx context.Context, chargeID string) (*Charge, error) {
	charge, err := uc.repo.GetChargeByID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge == nil || charge.ArchivedAt != nil {
		return nil, &NotFoundError{Code: paymentErrors.ErrCodeChargeNotFound, Message: "charge not found"}
	}
	return charge, nil
}

func (uc *ChargeUseCase) validate(req *CreateChargeRequest) error {
	if req.GrossAmount <= 0 {
		return &ValidationError{Code: paymentErrors.ErrCodeInvalidAmount, Message: "gross amount must be positive"}
	}
	if (req.PayerRef == "") == (req.SessionToken == "") {
		return &ValidationError{Code: paymentErrors.ErrCodeInvalidPayer, Message: "exactly one of payer ref or session token must be set"}
	}
	switch req.Method {
	case constants.MethodPix, constants.MethodCard, constants.MethodCheckout:
	default:
		return &ValidationError{Code: paymentErrors.ErrCodeUnknownMethod, Message: "unsupported payment method"}
	}
	return nil
}

func (uc *ChargeUseCase) resolveBeneficiary(ctx context.Context, ref string) (*Beneficiary, error) {
	beneficiary, err := uc.directory.GetBeneficiary(ctx, ref)
	if err != nil {
		return nil, err
	}
	if beneficiary == nil {
		return nil, &ValidationError{Code: paymentErrors.ErrCodeBeneficiaryNotFound, Message: "unknown beneficiary"}
	}
	if !beneficiary.Active {
		return nil, &ValidationError{Code: paymentErrors.ErrCodeBeneficiaryInactive, Message: "beneficiary cannot receive charges"}
	}
	return beneficiary, nil
}

func (uc *ChargeUseCase) encodePixPayload(charge *Charge) (string, error) {
	return pix.Encode(pix.Charge{
		Key:          uc.conf.PixKey,
		KeyType:      pix.KeyType(uc.conf.PixKeyType),
		MerchantName: uc.conf.MerchantName,
		MerchantCity: uc.conf.MerchantCity,
		Amount:       charge.GrossAmount,
		TxID:         charge.ExternalReference,
	})
}

func (uc *ChargeUseCase) publishApproved(ctx context.Context, charge *Charge) {
	if uc.publisher == nil {
		return
	}
	event := &ChargeApprovedEvent{
		ChargeID:       charge.ChargeID,
		BeneficiaryRef: charge.BeneficiaryRef,
		NetAmount:      charge.NetAmount,
	}
	if err := uc.publisher.PublishApproved(ctx, event); err != nil {
		uc.log.Warnf("publish approved event failed: charge_id=%s, error=%v", charge.ChargeID, err)
	}
}

func replyFrom(charge *Charge) *CreateChargeReply {
	return &CreateChargeReply{
		ChargeID:    charge.ChargeID,
		Status:      charge.Status,
		PixPayload:  charge.PixPayload,
		RedirectURL: charge.RedirectURL,
		ExpiresAt:   charge.ExpiresAt,
	}
}

// newExternalReference builds the correlation key handed to the provider.
// 25 characters total so the same value serves as the BR Code txid.
func newExternalReference() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return constants.ExternalReferencePrefix + raw[:21]
}
