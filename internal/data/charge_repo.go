package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"payment-engine/internal/biz"
	"payment-engine/internal/constants"
	"payment-engine/internal/data/model"
	"payment-engine/internal/metrics"

	paymentErrors "payment-engine/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"gorm.io/gorm"
)

const statusCacheTTL = 10 * time.Minute

// cachedStatus is the trimmed record served to the polling endpoint.
type cachedStatus struct {
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// chargeRepo is the ledger store.
type chargeRepo struct {
	data    *Data
	sync    *redsync.Redsync
	log     *log.Helper
	metrics *metrics.PaymentMetrics
}

// NewChargeRepo creates the charge repo (returns the biz.ChargeRepo interface).
func NewChargeRepo(data *Data, sync *redsync.Redsync, logger log.Logger) biz.ChargeRepo {
	return &chargeRepo{
		data:    data,
		sync:    sync,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// CreateCharge persists a new pending ledger record. Unique indexes on the
// idempotency key and external reference make double-creation a database
// error the caller resolves by re-reading.
func (r *chargeRepo) CreateCharge(ctx context.Context, charge *biz.Charge) error {
	m := toModel(charge)
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeCreateFailed)
	}
	return nil
}

// GetChargeByID loads a charge by its internal id. Terminal statuses are
// served from the Redis cache when present to keep client polling cheap.
func (r *chargeRepo) GetChargeByID(ctx context.Context, chargeID string) (*biz.Charge, error) {
	if cached := r.getCachedStatus(ctx, chargeID); cached != nil {
		return &biz.Charge{
			ChargeID:  chargeID,
			Status:    cached.Status,
			ExpiresAt: cached.ExpiresAt,
		}, nil
	}

	var m model.Charge
	if err := r.data.db.WithContext(ctx).Where("charge_id = ?", chargeID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeGetFailed)
	}
	return toBizCharge(&m), nil
}

// GetChargeByExternalID loads a charge by the provider-assigned id.
func (r *chargeRepo) GetChargeByExternalID(ctx context.Context, externalID string) (*biz.Charge, error) {
	var m model.Charge
	if err := r.data.db.WithContext(ctx).Where("external_charge_id = ?", externalID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeGetFailed)
	}
	return toBizCharge(&m), nil
}

// GetChargeByExternalReference loads a charge by the correlation key this
// engine handed to the provider.
func (r *chargeRepo) GetChargeByExternalReference(ctx context.Context, externalReference string) (*biz.Charge, error) {
	var m model.Charge
	if err := r.data.db.WithContext(ctx).Where("external_reference = ?", externalReference).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeGetFailed)
	}
	return toBizCharge(&m), nil
}

// GetChargeByIdempotencyKey loads a charge by its creation idempotency key.
func (r *chargeRepo) GetChargeByIdempotencyKey(ctx context.Context, key string) (*biz.Charge, error) {
	var m model.Charge
	if err := r.data.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeGetFailed)
	}
	return toBizCharge(&m), nil
}

// AttachGatewayResult stores the provider response on a still-pending record.
func (r *chargeRepo) AttachGatewayResult(ctx context.Context, chargeID string, result *biz.GatewayChargeResult, pixPayload string) error {
	updates := map[string]interface{}{
		"provider": result.Provider,
	}
	if result.ExternalID != "" {
		updates["external_charge_id"] = result.ExternalID
	}
	if result.RedirectURL != "" {
		updates["redirect_url"] = result.RedirectURL
	}
	if pixPayload != "" {
		updates["pix_payload"] = pixPayload
	}
	if result.ExpiresAt != nil {
		updates["expires_at"] = *result.ExpiresAt
	}

	if err := r.data.db.WithContext(ctx).Model(&model.Charge{}).
		Where("charge_id = ?", chargeID).
		Updates(updates).Error; err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeUpdateFailed)
	}
	return nil
}

// ReassignExternalID rewrites the provider id after the provider superseded
// it (checkout session id replaced by a payment intent id).
func (r *chargeRepo) ReassignExternalID(ctx context.Context, chargeID, externalID string) error {
	if err := r.data.db.WithContext(ctx).Model(&model.Charge{}).
		Where("charge_id = ?", chargeID).
		Update("external_charge_id", externalID).Error; err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeUpdateFailed)
	}
	return nil
}

// TransitionStatus applies pending→terminal atomically: a conditional UPDATE
// guarded by the current status decides the single winner, and a per-charge
// advisory lock keeps racing callers from hammering the row. Requests for
// any other transition (terminal→terminal, re-entering pending) are no-ops
// returning the current record, because webhook delivery is at-least-once.
func (r *chargeRepo) TransitionStatus(ctx context.Context, chargeID, status string) (*biz.Charge, bool, error) {
	applied := false

	if status != model.ChargeStatusPending {
		r.lockCharge(chargeID, func() {
			res := r.data.db.WithContext(ctx).Model(&model.Charge{}).
				Where("charge_id = ? AND status = ?", chargeID, model.ChargeStatusPending).
				Update("status", status)
			if res.Error == nil {
				applied = res.RowsAffected == 1
			} else {
				r.log.Errorf("transition update failed: charge_id=%s, error=%v", chargeID, res.Error)
			}
		})
	}

	var m model.Charge
	if err := r.data.db.WithContext(ctx).Where("charge_id = ?", chargeID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, pkgErrors.NewBizErrorWithLang(ctx, paymentErrors.ErrCodeChargeNotFound)
		}
		return nil, false, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeGetFailed)
	}

	charge := toBizCharge(&m)
	if charge.Terminal() {
		r.setCachedStatus(charge)
	}
	return charge, applied, nil
}

// ListExpiredPending selects pending charges whose expiry has passed.
// Charges with no expiry are never selected.
func (r *chargeRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*biz.Charge, error) {
	var ms []model.Charge
	if err := r.data.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ? AND archived_at IS NULL", model.ChargeStatusPending, now).
		Order("expires_at").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeGetFailed)
	}
	return toBizCharges(ms), nil
}

// ListStalePending selects pending charges created before the given cutoff,
// regardless of expiry, for the orphan reconciliation sweep.
func (r *chargeRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*biz.Charge, error) {
	var ms []model.Charge
	if err := r.data.db.WithContext(ctx).
		Where("status = ? AND created_at <= ? AND archived_at IS NULL", model.ChargeStatusPending, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeChargeGetFailed)
	}
	return toBizCharges(ms), nil
}

// ArchiveTerminalBefore soft-archives terminal records last touched before
// the cutoff. Pending records are never archived.
func (r *chargeRepo) ArchiveTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.data.db.WithContext(ctx).Model(&model.Charge{}).
		Where("status <> ? AND archived_at IS NULL AND updated_at <= ?", model.ChargeStatusPending, cutoff).
		Update("archived_at", time.Now())
	if res.Error != nil {
		return 0, pkgErrors.WrapErrorWithLang(ctx, res.Error, paymentErrors.ErrCodeChargeUpdateFailed)
	}
	return res.RowsAffected, nil
}

// lockCharge runs fn under the per-charge advisory lock. Without Redis the
// conditional UPDATE alone still guarantees a single winner.
func (r *chargeRepo) lockCharge(chargeID string, fn func()) {
	if r.sync == nil {
		fn()
		return
	}
	lockStartTime := time.Now()
	mutex := r.sync.NewMutex(constants.RedisKeyTransitionLock+chargeID, redsync.WithExpiry(5*time.Second))
	if err := mutex.Lock(); err != nil {
		r.log.Warnf("failed to acquire transition lock: charge_id=%s, error=%v", chargeID, err)
		if r.metrics != nil {
			r.metrics.LockAcquireTotal.WithLabelValues(constants.ResultFailed).Inc()
			r.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
		}
		fn()
		return
	}
	if r.metrics != nil {
		r.metrics.LockAcquireTotal.WithLabelValues(constants.ResultSuccess).Inc()
		r.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
	}
	defer func() {
		if ok, err := mutex.Unlock(); !ok || err != nil {
			r.log.Warnf("failed to release transition lock: charge_id=%s, error=%v", chargeID, err)
		}
	}()
	fn()
}

func (r *chargeRepo) getCachedStatus(ctx context.Context, chargeID string) *cachedStatus {
	raw, err := r.data.rdb.Get(ctx, constants.RedisKeyChargeStatus+chargeID).Result()
	if err != nil {
		return nil
	}
	var cached cachedStatus
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil
	}
	return &cached
}

func (r *chargeRepo) setCachedStatus(charge *biz.Charge) {
	raw, err := json.Marshal(&cachedStatus{Status: charge.Status, ExpiresAt: charge.ExpiresAt})
	if err != nil {
		return
	}
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cacheCancel()
	if err := r.data.rdb.Set(cacheCtx, constants.RedisKeyChargeStatus+charge.ChargeID, raw, statusCacheTTL).Err(); err != nil {
		// Cache misses only make polling hit the database.
		r.log.Warnf("failed to cache charge status: charge_id=%s, error=%v", charge.ChargeID, err)
	}
}

func toModel(c *biz.Charge) *model.Charge {
	m := &model.Charge{
		ChargeID:          c.ChargeID,
		ExternalReference: c.ExternalReference,
		IdempotencyKey:    c.IdempotencyKey,
		Provider:          c.Provider,
		Method:            c.Method,
		GrossAmount:       c.GrossAmount,
		FeeAmount:         c.FeeAmount,
		NetAmount:         c.NetAmount,
		PayerRef:          c.PayerRef,
		SessionToken:      c.SessionToken,
		BeneficiaryRef:    c.BeneficiaryRef,
		BeneficiaryTier:   c.BeneficiaryTier,
		Status:            c.Status,
		PixPayload:        c.PixPayload,
		RedirectURL:       c.RedirectURL,
		ExpiresAt:         c.ExpiresAt,
		ArchivedAt:        c.ArchivedAt,
	}
	if c.ExternalChargeID != "" {
		id := c.ExternalChargeID
		m.ExternalChargeID = &id
	}
	return m
}

func toBizCharge(m *model.Charge) *biz.Charge {
	c := &biz.Charge{
		ChargeID:          m.ChargeID,
		ExternalReference: m.ExternalReference,
		IdempotencyKey:    m.IdempotencyKey,
		Provider:          m.Provider,
		Method:            m.Method,
		GrossAmount:       m.GrossAmount,
		FeeAmount:         m.FeeAmount,
		NetAmount:         m.NetAmount,
		PayerRef:          m.PayerRef,
		SessionToken:      m.SessionToken,
		BeneficiaryRef:    m.BeneficiaryRef,
		BeneficiaryTier:   m.BeneficiaryTier,
		Status:            m.Status,
		PixPayload:        m.PixPayload,
		RedirectURL:       m.RedirectURL,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		ExpiresAt:         m.ExpiresAt,
		ArchivedAt:        m.ArchivedAt,
	}
	if m.ExternalChargeID != nil {
		c.ExternalChargeID = *m.ExternalChargeID
	}
	return c
}

func toBizCharges(ms []model.Charge) []*biz.Charge {
	out := make([]*biz.Charge, 0, len(ms))
	for i := range ms {
		out = append(out, toBizCharge(&ms[i]))
	}
	return out
}
