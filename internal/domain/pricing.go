package domain

// RateTable holds the fee rates used to price a booking. Tables are
// versioned: a breakdown stamped with "v1" stays reproducible after the
// live rates change.
type RateTable struct {
	Version           string
	ServiceFeePercent int64
	InsurancePercent  int64
	CommissionPercent int64
	CentsPerPoint     int64
}

// RateTableV1 is the rate table in force since launch: 15% renter service
// fee, 10% insurance, 20% owner commission, 100 points = $10.
var RateTableV1 = RateTable{
	Version:           "v1",
	ServiceFeePercent: 15,
	InsurancePercent:  10,
	CommissionPercent: 20,
	CentsPerPoint:     10,
}

// QuoteInput carries everything ComputeBreakdown needs. All amounts are
// integer cents. WeeklyRateCents of zero means the listing has no weekly
// rate. PointsApplied is a point count, already clamped to the renter's
// balance by the caller.
type QuoteInput struct {
	DailyRateCents       int64
	WeeklyRateCents      int64
	DayCount             int
	IncludeInsurance     bool
	SecurityDepositCents int64
	DeliveryFeeCents     int64
	PointsApplied        int64
}

// PricingBreakdown is stamped onto a booking exactly once, at creation,
// and never recomputed.
type PricingBreakdown struct {
	BasePriceCents          int64  `json:"base_price_cents"`
	ServiceFeeCents         int64  `json:"service_fee_cents"`
	InsuranceFeeCents       int64  `json:"insurance_fee_cents"`
	DeliveryFeeCents        int64  `json:"delivery_fee_cents"`
	SecurityDepositCents    int64  `json:"security_deposit_cents"`
	PointsCreditCents       int64  `json:"points_credit_cents"`
	RenterTotalCents        int64  `json:"renter_total_cents"`
	PlatformCommissionCents int64  `json:"platform_commission_cents"`
	OwnerNetCents           int64  `json:"owner_net_cents"`
	PlatformRevenueCents    int64  `json:"platform_revenue_cents"`
	CalculationVersion      string `json:"calculation_version"`
}

// ComputeBreakdown prices a booking. It is pure and deterministic: the
// same input and rate table always produce the same breakdown. Each fee is
// rounded half-up independently, not on the aggregate.
func ComputeBreakdown(in QuoteInput, table RateTable) (PricingBreakdown, error) {
	if in.DayCount <= 0 || in.DailyRateCents <= 0 {
		return PricingBreakdown{}, ErrInvalidInput
	}
	if in.PointsApplied < 0 || in.WeeklyRateCents < 0 {
		return PricingBreakdown{}, ErrInvalidInput
	}
	if in.SecurityDepositCents < 0 || in.DeliveryFeeCents < 0 {
		return PricingBreakdown{}, ErrInvalidInput
	}

	days := int64(in.DayCount)
	base := in.DailyRateCents * days
	if in.DayCount >= 7 && in.WeeklyRateCents > 0 {
		weeks := days / 7
		remainder := days % 7
		base = weeks*in.WeeklyRateCents + remainder*in.DailyRateCents
	}

	service := percentHalfUp(base, table.ServiceFeePercent)
	// Insurance is charged per rental day on the daily rate, so a
	// weekly-rate discount does not shrink the premium.
	var insurance int64
	if in.IncludeInsurance {
		insurance = percentHalfUp(in.DailyRateCents*days, table.InsurancePercent)
	}
	commission := percentHalfUp(base, table.CommissionPercent)

	preCredit := base + service + insurance + in.DeliveryFeeCents + in.SecurityDepositCents
	credit := in.PointsApplied * table.CentsPerPoint
	if credit > preCredit {
		credit = preCredit
	}

	return PricingBreakdown{
		BasePriceCents:          base,
		ServiceFeeCents:         service,
		InsuranceFeeCents:       insurance,
		DeliveryFeeCents:        in.DeliveryFeeCents,
		SecurityDepositCents:    in.SecurityDepositCents,
		PointsCreditCents:       credit,
		RenterTotalCents:        preCredit - credit,
		PlatformCommissionCents: commission,
		OwnerNetCents:           base - commission,
		PlatformRevenueCents:    service + commission,
		CalculationVersion:      table.Version,
	}, nil
}

func percentHalfUp(amountCents, percent int64) int64 {
	return (amountCents*percent + 50) / 100
}
