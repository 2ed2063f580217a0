package domain

import (
	"errors"
	"testing"
)

func TestComputeBreakdown(t *testing.T) {
	cases := []struct {
		name string
		in   QuoteInput
		want PricingBreakdown
	}{
		{
			// $30/day for two days with insurance and a $50 deposit.
			name: "insured weekend rental",
			in: QuoteInput{
				DailyRateCents:       3000,
				DayCount:             2,
				IncludeInsurance:     true,
				SecurityDepositCents: 5000,
			},
			want: PricingBreakdown{
				BasePriceCents:          6000,
				ServiceFeeCents:         900,
				InsuranceFeeCents:       600,
				SecurityDepositCents:    5000,
				RenterTotalCents:        12500,
				PlatformCommissionCents: 1200,
				OwnerNetCents:           4800,
				PlatformRevenueCents:    2100,
				CalculationVersion:      "v1",
			},
		},
		{
			// Ten days: one week at the weekly rate plus three daily days.
			// Insurance stays on the daily rate, untouched by the discount.
			name: "weekly rate substitution",
			in: QuoteInput{
				DailyRateCents:   3000,
				WeeklyRateCents:  18000,
				DayCount:         10,
				IncludeInsurance: true,
			},
			want: PricingBreakdown{
				BasePriceCents:          27000,
				ServiceFeeCents:         4050,
				InsuranceFeeCents:       3000,
				RenterTotalCents:        34050,
				PlatformCommissionCents: 5400,
				OwnerNetCents:           21600,
				PlatformRevenueCents:    9450,
				CalculationVersion:      "v1",
			},
		},
		{
			name: "under a week ignores the weekly rate",
			in: QuoteInput{
				DailyRateCents:  3000,
				WeeklyRateCents: 15000,
				DayCount:        6,
			},
			want: PricingBreakdown{
				BasePriceCents:          18000,
				ServiceFeeCents:         2700,
				RenterTotalCents:        20700,
				PlatformCommissionCents: 3600,
				OwnerNetCents:           14400,
				PlatformRevenueCents:    6300,
				CalculationVersion:      "v1",
			},
		},
		{
			// 5000 points are worth $500, far more than the rental; the
			// credit is capped and the renter owes nothing.
			name: "points credit capped at the total",
			in: QuoteInput{
				DailyRateCents: 1000,
				DayCount:       1,
				PointsApplied:  5000,
			},
			want: PricingBreakdown{
				BasePriceCents:          1000,
				ServiceFeeCents:         150,
				PointsCreditCents:       1150,
				RenterTotalCents:        0,
				PlatformCommissionCents: 200,
				OwnerNetCents:           800,
				PlatformRevenueCents:    350,
				CalculationVersion:      "v1",
			},
		},
		{
			// 15% of $3.30 is 49.5 cents; half cents round up, per fee.
			name: "half cent rounds up",
			in: QuoteInput{
				DailyRateCents:   110,
				DayCount:         3,
				IncludeInsurance: true,
			},
			want: PricingBreakdown{
				BasePriceCents:          330,
				ServiceFeeCents:         50,
				InsuranceFeeCents:       33,
				RenterTotalCents:        413,
				PlatformCommissionCents: 66,
				OwnerNetCents:           264,
				PlatformRevenueCents:    116,
				CalculationVersion:      "v1",
			},
		},
		{
			name: "delivery fee and partial points",
			in: QuoteInput{
				DailyRateCents:   2500,
				DayCount:         4,
				DeliveryFeeCents: 1500,
				PointsApplied:    100,
			},
			want: PricingBreakdown{
				BasePriceCents:          10000,
				ServiceFeeCents:         1500,
				DeliveryFeeCents:        1500,
				PointsCreditCents:       1000,
				RenterTotalCents:        12000,
				PlatformCommissionCents: 2000,
				OwnerNetCents:           8000,
				PlatformRevenueCents:    3500,
				CalculationVersion:      "v1",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeBreakdown(tc.in, RateTableV1)
			if err != nil {
				t.Fatalf("ComputeBreakdown: %v", err)
			}
			if got != tc.want {
				t.Errorf("breakdown = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestComputeBreakdownDeterministic(t *testing.T) {
	in := QuoteInput{
		DailyRateCents:       4599,
		WeeklyRateCents:      27500,
		DayCount:             9,
		IncludeInsurance:     true,
		SecurityDepositCents: 10000,
		DeliveryFeeCents:     750,
		PointsApplied:        42,
	}
	first, err := ComputeBreakdown(in, RateTableV1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ComputeBreakdown(in, RateTableV1)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same input produced different breakdowns:\n%+v\n%+v", first, second)
	}
}

func TestComputeBreakdownIdentities(t *testing.T) {
	for _, daily := range []int64{999, 3000, 12345} {
		for _, days := range []int{1, 2, 7, 30} {
			for _, points := range []int64{0, 10, 100000} {
				in := QuoteInput{
					DailyRateCents:       daily,
					WeeklyRateCents:      daily * 6,
					DayCount:             days,
					IncludeInsurance:     days%2 == 0,
					SecurityDepositCents: 5000,
					DeliveryFeeCents:     700,
					PointsApplied:        points,
				}
				b, err := ComputeBreakdown(in, RateTableV1)
				if err != nil {
					t.Fatalf("ComputeBreakdown(%+v): %v", in, err)
				}
				sum := b.BasePriceCents + b.ServiceFeeCents + b.InsuranceFeeCents +
					b.DeliveryFeeCents + b.SecurityDepositCents - b.PointsCreditCents
				if b.RenterTotalCents != sum {
					t.Errorf("renter total %d != component sum %d for %+v", b.RenterTotalCents, sum, in)
				}
				if b.OwnerNetCents != b.BasePriceCents-b.PlatformCommissionCents {
					t.Errorf("owner net %d != base %d - commission %d", b.OwnerNetCents, b.BasePriceCents, b.PlatformCommissionCents)
				}
				if b.PlatformRevenueCents != b.ServiceFeeCents+b.PlatformCommissionCents {
					t.Errorf("platform revenue %d != service %d + commission %d", b.PlatformRevenueCents, b.ServiceFeeCents, b.PlatformCommissionCents)
				}
				if b.RenterTotalCents < 0 {
					t.Errorf("renter total went negative: %+v", b)
				}
			}
		}
	}
}

func TestComputeBreakdownRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   QuoteInput
	}{
		{"zero days", QuoteInput{DailyRateCents: 3000}},
		{"negative days", QuoteInput{DailyRateCents: 3000, DayCount: -1}},
		{"zero rate", QuoteInput{DayCount: 2}},
		{"negative rate", QuoteInput{DailyRateCents: -5, DayCount: 2}},
		{"negative points", QuoteInput{DailyRateCents: 3000, DayCount: 2, PointsApplied: -1}},
		{"negative weekly rate", QuoteInput{DailyRateCents: 3000, DayCount: 2, WeeklyRateCents: -1}},
		{"negative deposit", QuoteInput{DailyRateCents: 3000, DayCount: 2, SecurityDepositCents: -1}},
		{"negative delivery fee", QuoteInput{DailyRateCents: 3000, DayCount: 2, DeliveryFeeCents: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ComputeBreakdown(tc.in, RateTableV1); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}
