package biz

import (
	"context"
	"net/http"
	"time"

	"payment-engine/internal/conf"
	"payment-engine/internal/constants"
	"payment-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"

	paymentErrors "payment-engine/internal/errors"
)

// SweepLocker is the leader lock so each sweep tick runs on one instance.
// The returned release func is nil-safe to defer.
type SweepLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool)
}

// WebhookOutcome tells the transport layer how the delivery ended; every
// outcome listed here maps to HTTP 200.
type WebhookOutcome struct {
	Result   string // constants.WebhookResult*
	ChargeID string
}

// ReconcileUseCase applies asynchronous provider notifications and the
// periodic sweeps to the ledger. All mutation goes through the repo's atomic
// TransitionStatus, so webhook retries, out-of-order deliveries and races
// against the sweeper are order-independent.
type ReconcileUseCase struct {
	repo      ChargeRepo
	registry  GatewayRegistry
	publisher EventPublisher
	locker    SweepLocker
	payment   *conf.Payment
	sweep     *conf.Sweep
	log       *log.Helper
	metrics   *metrics.PaymentMetrics
}

// NewReconcileUseCase creates the reconcile use case.
func NewReconcileUseCase(
	repo ChargeRepo,
	registry GatewayRegistry,
	publisher EventPublisher,
	locker SweepLocker,
	c *conf.Bootstrap,
	logger log.Logger,
) *ReconcileUseCase {
	payment := &conf.Payment{}
	sweep := &conf.Sweep{}
	if c != nil {
		if c.Payment != nil {
			payment = c.Payment
		}
		if c.Sweep != nil {
			sweep = c.Sweep
		}
	}
	return &ReconcileUseCase{
		repo:      repo,
		registry:  registry,
		publisher: publisher,
		locker:    locker,
		payment:   payment,
		sweep:     sweep,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// HandleWebhook verifies, decodes and applies one provider delivery.
// Signature verification happens before any business data is trusted.
func (uc *ReconcileUseCase) HandleWebhook(ctx context.Context, provider string, header http.Header, body []byte) (*WebhookOutcome, error) {
	startTime := time.Now()
	defer func() {
		uc.metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(startTime).Seconds())
	}()

	verifier, err := uc.registry.VerifierFor(provider)
	if err != nil {
		return nil, err
	}
	if err := verifier.VerifySignature(header, body); err != nil {
		uc.log.Warnf("webhook signature rejected: provider=%s, error=%v", provider, err)
		uc.metrics.WebhookTotal.WithLabelValues(provider, constants.ResultFailed).Inc()
		return nil, &SignatureError{Provider: provider, Message: err.Error()}
	}

	event, err := verifier.ParseEvent(body, header)
	if err != nil {
		uc.metrics.WebhookTotal.WithLabelValues(provider, constants.ResultFailed).Inc()
		return nil, &MalformedPayloadError{Provider: provider, Message: err.Error()}
	}
	if !event.Relevant {
		uc.metrics.WebhookTotal.WithLabelValues(provider, constants.WebhookResultIgnored).Inc()
		return &WebhookOutcome{Result: constants.WebhookResultIgnored}, nil
	}

	adapter, err := uc.registry.ForProvider(provider)
	if err != nil {
		return nil, err
	}

	charge, err := uc.resolveCharge(ctx, adapter, event)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		// A charge always exists before its webhook fires; a miss is a data
		// bug worth investigating, never a silent success.
		uc.log.Errorf("webhook for unknown charge: provider=%s, event=%s, external_id=%s",
			provider, event.EventID, event.ExternalID)
		uc.metrics.WebhookTotal.WithLabelValues(provider, constants.WebhookResultNotFound).Inc()
		return nil, &NotFoundError{Code: paymentErrors.ErrCodeWebhookRecordNotFound, Message: "charge not found for webhook"}
	}

	if event.ReassignedExternalID != "" && event.ReassignedExternalID != charge.ExternalChargeID {
		if err := uc.repo.ReassignExternalID(ctx, charge.ChargeID, event.ReassignedExternalID); err != nil {
			uc.log.Errorf("external id reassign failed: charge_id=%s, error=%v", charge.ChargeID, err)
		}
	}

	status, ambiguous := event.Status, event.Ambiguous
	if ambiguous {
		status, ambiguous = uc.resolveRemoteStatus(ctx, adapter, externalIDFor(charge, event))
	}
	if ambiguous || status == "" || status == constants.ChargeStatusPending {
		// Still intermediate provider-side: acknowledge and let the sweeps
		// settle it later.
		uc.metrics.WebhookTotal.WithLabelValues(provider, constants.WebhookResultPending).Inc()
		return &WebhookOutcome{Result: constants.WebhookResultPending, ChargeID: charge.ChargeID}, nil
	}

	updated, applied, err := uc.applyTransition(ctx, charge.ChargeID, status)
	if err != nil {
		return nil, err
	}

	result := constants.WebhookResultProcessed
	if !applied {
		result = constants.WebhookResultDuplicate
	}
	uc.metrics.WebhookTotal.WithLabelValues(provider, result).Inc()
	uc.log.Infof("webhook %s: provider=%s, event=%s, charge_id=%s, status=%s",
		result, provider, event.EventID, updated.ChargeID, updated.Status)
	return &WebhookOutcome{Result: result, ChargeID: updated.ChargeID}, nil
}

// SweepExpired transitions overdue pending charges to expired. Records with
// no expiry are never swept. Returns the number of applied transitions.
func (uc *ReconcileUseCase) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	release, ok := uc.tryLock(ctx, "expiry")
	if !ok {
		return 0, nil
	}
	defer release()

	startTime := time.Now()
	defer func() {
		uc.metrics.SweepDuration.WithLabelValues("expiry").Observe(time.Since(startTime).Seconds())
	}()

	charges, err := uc.repo.ListExpiredPending(ctx, now, uc.batchSize())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, charge := range charges {
		_, applied, err := uc.applyTransition(ctx, charge.ChargeID, constants.ChargeStatusExpired)
		if err != nil {
			uc.log.Errorf("expiry transition failed: charge_id=%s, error=%v", charge.ChargeID, err)
			continue
		}
		if applied {
			count++
			uc.metrics.SweepExpiredTotal.Inc()
		}
	}
	if count > 0 {
		uc.log.Infof("expiry sweep: expired=%d, scanned=%d", count, len(charges))
	}
	return count, nil
}

// SweepOrphans re-queries the provider for pending charges older than the
// grace window (including charges whose creation call timed out locally) and
// applies whatever terminal state the provider reports. A charge with no
// remote counterpart is rejected, failing closed.
func (uc *ReconcileUseCase) SweepOrphans(ctx context.Context, now time.Time) (int, error) {
	release, ok := uc.tryLock(ctx, "orphan")
	if !ok {
		return 0, nil
	}
	defer release()

	startTime := time.Now()
	defer func() {
		uc.metrics.SweepDuration.WithLabelValues("orphan").Observe(time.Since(startTime).Seconds())
	}()

	charges, err := uc.repo.ListStalePending(ctx, now.Add(-uc.sweep.GetOrphanGrace()), uc.batchSize())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, charge := range charges {
		status, resolved := uc.queryOrphan(ctx, charge)
		if !resolved {
			continue
		}
		_, applied, err := uc.applyTransition(ctx, charge.ChargeID, status)
		if err != nil {
			uc.log.Errorf("orphan transition failed: charge_id=%s, error=%v", charge.ChargeID, err)
			continue
		}
		if applied {
			count++
			uc.metrics.SweepOrphanTotal.WithLabelValues(status).Inc()
		}
	}
	if count > 0 {
		uc.log.Infof("orphan sweep: resolved=%d, scanned=%d", count, len(charges))
	}
	return count, nil
}

// ArchiveTerminal soft-archives terminal records past the retention window.
func (uc *ReconcileUseCase) ArchiveTerminal(ctx context.Context, now time.Time) (int64, error) {
	release, ok := uc.tryLock(ctx, "archive")
	if !ok {
		return 0, nil
	}
	defer release()

	startTime := time.Now()
	defer func() {
		uc.metrics.SweepDuration.WithLabelValues("archive").Observe(time.Since(startTime).Seconds())
	}()

	retention := uc.sweep.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	cutoff := now.AddDate(0, 0, -retention)
	count, err := uc.repo.ArchiveTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		uc.metrics.SweepArchivedTotal.Add(float64(count))
		uc.log.Infof("archive sweep: archived=%d, cutoff=%s", count, cutoff.Format(time.RFC3339))
	}
	return count, nil
}

// resolveCharge maps a provider event to the local record: primary lookup by
// external id, fallback by external reference, and as a last resort a direct
// provider query to learn the reference (out-of-order delivery where the
// webhook carries an id the engine has not stored yet).
func (uc *ReconcileUseCase) resolveCharge(ctx context.Context, adapter GatewayAdapter, event *WebhookEvent) (*Charge, error) {
	if event.ExternalID != "" {
		charge, err := uc.repo.GetChargeByExternalID(ctx, event.ExternalID)
		if err != nil {
			return nil, err
		}
		if charge != nil {
			return charge, nil
		}
	}

	reference := event.ExternalReference
	if reference == "" && event.ExternalID != "" {
		if remote, err := adapter.QueryCharge(ctx, event.ExternalID); err != nil {
			uc.log.Warnf("webhook reference recovery failed: external_id=%s, error=%v", event.ExternalID, err)
		} else if remote != nil {
			reference = remote.ExternalReference
		}
	}
	if reference == "" {
		return nil, nil
	}

	charge, err := uc.repo.GetChargeByExternalReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, nil
	}
	// Found through the fallback: the provider knows this record under a
	// newer id than the one stored locally.
	if event.ExternalID != "" && event.ExternalID != charge.ExternalChargeID {
		if err := uc.repo.ReassignExternalID(ctx, charge.ChargeID, event.ExternalID); err != nil {
			uc.log.Errorf("external id reassign failed: charge_id=%s, error=%v", charge.ChargeID, err)
		} else {
			charge.ExternalChargeID = event.ExternalID
		}
	}
	return charge, nil
}

// resolveRemoteStatus queries the provider directly when the webhook payload
// alone is ambiguous, with bounded exponential backoff.
func (uc *ReconcileUseCase) resolveRemoteStatus(ctx context.Context, adapter GatewayAdapter, externalID string) (string, bool) {
	if externalID == "" {
		return "", true
	}
	attempts := uc.payment.StatusRetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := uc.payment.GetStatusRetryBackoff()

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", true
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		remote, err := adapter.QueryCharge(ctx, externalID)
		if err != nil {
			uc.log.Warnf("status query failed (attempt %d/%d): external_id=%s, error=%v", i+1, attempts, externalID, err)
			continue
		}
		if remote == nil {
			return "", true
		}
		if !remote.Ambiguous && remote.Status != "" {
			return remote.Status, false
		}
	}
	return "", true
}

func (uc *ReconcileUseCase) queryOrphan(ctx context.Context, charge *Charge) (string, bool) {
	adapter, err := uc.registry.ForMethod(charge.Method)
	if err != nil {
		uc.log.Errorf("orphan sweep: no adapter for method %s", charge.Method)
		return "", false
	}

	var remote *GatewayChargeResult
	if charge.ExternalChargeID != "" {
		remote, err = adapter.QueryCharge(ctx, charge.ExternalChargeID)
	} else {
		remote, err = adapter.QueryByReference(ctx, charge.ExternalReference)
	}
	if err != nil {
		uc.log.Warnf("orphan query failed: charge_id=%s, error=%v", charge.ChargeID, err)
		return "", false
	}
	if remote == nil {
		// No remote counterpart: the create call failed after persisting
		// the local record.
		return constants.ChargeStatusRejected, true
	}
	if remote.Ambiguous || remote.Status == "" || remote.Status == constants.ChargeStatusPending {
		return "", false
	}
	return remote.Status, true
}

func (uc *ReconcileUseCase) applyTransition(ctx context.Context, chargeID, status string) (*Charge, bool, error) {
	charge, applied, err := uc.repo.TransitionStatus(ctx, chargeID, status)
	if err != nil {
		return nil, false, err
	}
	result := "noop"
	if applied {
		result = "applied"
	}
	uc.metrics.TransitionTotal.WithLabelValues(status, result).Inc()
	if applied && charge.Status == constants.ChargeStatusApproved && uc.publisher != nil {
		event := &ChargeApprovedEvent{
			ChargeID:       charge.ChargeID,
			BeneficiaryRef: charge.BeneficiaryRef,
			NetAmount:      charge.NetAmount,
		}
		if err := uc.publisher.PublishApproved(ctx, event); err != nil {
			// Never ties the ledger transition to broker availability.
			uc.log.Warnf("publish approved event failed: charge_id=%s, error=%v", charge.ChargeID, err)
		}
	}
	return charge, applied, nil
}

func (uc *ReconcileUseCase) tryLock(ctx context.Context, name string) (func(), bool) {
	if uc.locker == nil {
		return func() {}, true
	}
	release, ok := uc.locker.TryLock(ctx, constants.RedisKeySweepLock+name, 2*time.Minute)
	if !ok {
		uc.log.Infof("sweep %s skipped: another instance holds the lock", name)
		return nil, false
	}
	return release, true
}

func (uc *ReconcileUseCase) batchSize() int {
	if uc.sweep.BatchSize > 0 {
		return uc.sweep.BatchSize
	}
	return 200
}

func externalIDFor(charge *Charge, event *WebhookEvent) string {
	if event.ReassignedExternalID != "" {
		return event.ReassignedExternalID
	}
	if event.ExternalID != "" {
		return event.ExternalID
	}
	return charge.ExternalChargeID
}
