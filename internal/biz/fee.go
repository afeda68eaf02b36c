package biz

import (
	"math"

	"payment-engine/internal/conf"
	"payment-engine/internal/constants"
)

// Default platform fee rates per beneficiary tier, overridable in config.
const (
	defaultFreeFeeRate = 0.20
	defaultProFeeRate  = 0.0
)

// FeePolicy computes the platform fee split for a charge. The split is
// frozen into the ledger record at creation and never recomputed, so rate
// changes only affect future charges.
type FeePolicy struct {
	rates map[string]float64
}

// NewFeePolicy builds the policy from config, falling back to defaults.
func NewFeePolicy(c *conf.Bootstrap) *FeePolicy {
	rates := map[string]float64{
		constants.TierFree: defaultFreeFeeRate,
		constants.TierPro:  defaultProFeeRate,
	}
	if c != nil && c.Payment != nil {
		if c.Payment.FreeFeeRate > 0 {
			rates[constants.TierFree] = c.Payment.FreeFeeRate
		}
		if c.Payment.ProFeeRate > 0 {
			rates[constants.TierPro] = c.Payment.ProFeeRate
		}
	}
	return &FeePolicy{rates: rates}
}

// Split returns (fee, net) for the gross amount under the given tier.
// The fee is rounded half-up to 2 decimals and net = gross - fee, so the
// two always reconcile to gross exactly. Unknown tiers price as free.
func (p *FeePolicy) Split(gross float64, tier string) (float64, float64) {
	rate, ok := p.rates[tier]
	if !ok {
		rate = p.rates[constants.TierFree]
	}
	fee := roundCents(gross * rate)
	net := roundCents(gross - fee)
	return fee, net
}

// Reconciles reports whether fee+net matches gross within one cent.
func Reconciles(gross, fee, net float64) bool {
	return math.Abs(fee+net-gross) < 0.01+1e-9
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
