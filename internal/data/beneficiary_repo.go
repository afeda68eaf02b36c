package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"payment-engine/internal/biz"
	"payment-engine/internal/constants"
	"payment-engine/internal/data/model"

	paymentErrors "payment-engine/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

const beneficiaryCacheTTL = 5 * time.Minute

// beneficiaryRepo reads the profile service's beneficiary table through a
// Redis cache.
type beneficiaryRepo struct {
	data *Data
	log  *log.Helper
}

// NewBeneficiaryRepo creates the beneficiary directory (returns the
// biz.BeneficiaryDirectory interface).
func NewBeneficiaryRepo(data *Data, logger log.Logger) biz.BeneficiaryDirectory {
	return &beneficiaryRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetBeneficiary resolves a beneficiary by id, nil when unknown.
func (r *beneficiaryRepo) GetBeneficiary(ctx context.Context, beneficiaryID string) (*biz.Beneficiary, error) {
	cacheKey := constants.RedisKeyBeneficiary + beneficiaryID
	if raw, err := r.data.rdb.Get(ctx, cacheKey).Result(); err == nil {
		var b biz.Beneficiary
		if err := json.Unmarshal([]byte(raw), &b); err == nil {
			return &b, nil
		}
	}

	var m model.Beneficiary
	if err := r.data.db.WithContext(ctx).Where("beneficiary_id = ?", beneficiaryID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, paymentErrors.ErrCodeBeneficiaryGetFailed)
	}

	b := &biz.Beneficiary{
		BeneficiaryID: m.BeneficiaryID,
		DisplayName:   m.DisplayName,
		Tier:          m.Tier,
		Active:        m.Active,
	}

	if raw, err := json.Marshal(b); err == nil {
		cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cacheCancel()
		if err := r.data.rdb.Set(cacheCtx, cacheKey, raw, beneficiaryCacheTTL).Err(); err != nil {
			r.log.Warnf("failed to cache beneficiary: id=%s, error=%v", beneficiaryID, err)
		}
	}

	return b, nil
}
