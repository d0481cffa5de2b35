package settlement

import (
	"context"
	"errors"

	"github.com/minitrade/binarybot/core"
)

// Accrual credits referral commission to referrers. Commission is paid on
// winning trades only, computed on the stake, one referral level deep.
type Accrual struct {
	ledger core.Ledger
	log    core.Logger
	rate   float64
}

// NewAccrual creates a referral accrual with the given commission rate
func NewAccrual(ledger core.Ledger, log core.Logger, rate float64) *Accrual {
	return &Accrual{
		ledger: ledger,
		log:    log,
		rate:   rate,
	}
}

// Credit accrues rate*stake to the referrer. A missing referrer is
// reported, not fatal: the referee's settlement already completed.
func (a *Accrual) Credit(ctx context.Context, referrerID string, stake float64) {
	commission := stake * a.rate
	if commission <= 0 {
		return
	}

	referrer, err := a.ledger.AddReferralEarned(ctx, referrerID, commission)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			a.log.WithField("referrer", referrerID).Warn("referral commission for unknown referrer dropped")
			return
		}
		a.log.WithError(err).Error("referralAccrual/credit: ", err)
		return
	}

	a.log.WithField("referrer", referrerID).
		Infof("[REFERRAL] +$%.2f (total $%.2f)", commission, referrer.ReferralEarned)
}
