package domain

import "github.com/smallbiznis/voxbill/internal/config"

// NewEntitlement computes overage = max(0, used - included). An unlimited
// allowance never produces overage.
func NewEntitlement(used, included, overageRate int64) Entitlement {
	e := Entitlement{
		Used:        used,
		Included:    included,
		OverageRate: overageRate,
	}
	if included == config.Unlimited {
		e.Unlimited = true
		return e
	}
	if used > included {
		e.Overage = used - included
	}
	return e
}

// Charge is the overage cost in cents.
func (e Entitlement) Charge() int64 {
	return e.Overage * e.OverageRate
}
