package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/warp/records-billing/billing"
)

func TestRateLine_Validate_RejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*billing.RateLine)
		field string
	}{
		{"negative unit rate", func(l *billing.RateLine) { l.UnitRate = d("-1") }, "unit_rate"},
		{"negative minimum charge", func(l *billing.RateLine) { l.MinimumCharge = d("-1") }, "minimum_charge"},
		{"negative maximum charge", func(l *billing.RateLine) { l.MaximumCharge = d("-1") }, "maximum_charge"},
		{"negative minimum quantity", func(l *billing.RateLine) { l.MinimumQuantity = d("-1") }, "minimum_quantity"},
		{"negative increment", func(l *billing.RateLine) { l.QuantityIncrement = d("-0.5") }, "quantity_increment"},
		{"discount above 100", func(l *billing.RateLine) { l.DiscountPercent = d("100.01") }, "discount_percent"},
		{"negative discount", func(l *billing.RateLine) { l.DiscountPercent = d("-1") }, "discount_percent"},
		{"negative markup", func(l *billing.RateLine) { l.MarkupPercent = d("-1") }, "markup_percent"},
		{"maximum below minimum", func(l *billing.RateLine) {
			l.MinimumCharge = d("10")
			l.MaximumCharge = d("5")
		}, "maximum_charge"},
		{"expiry before effective", func(l *billing.RateLine) {
			l.EffectiveDate = datePtr(2025, time.March, 1)
			l.ExpiryDate = datePtr(2025, time.February, 28)
		}, "expiry_date"},
		{"unknown service", func(l *billing.RateLine) { l.ServiceType = "shredding" }, "service_type"},
		{"unknown method", func(l *billing.RateLine) { l.BillingMethod = "tiered" }, "billing_method"},
		{"per container type without container", func(l *billing.RateLine) {
			l.BillingMethod = billing.MethodPerContainerType
		}, "container_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := perUnit("bad", "1")
			tt.mut(&line)

			_, err := billing.NewRateLine(line)
			if !errors.Is(err, billing.ErrInvalidRateLine) {
				t.Fatalf("expected ErrInvalidRateLine, got %v", err)
			}
			var verr *billing.RateLineValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, err)
			}
			if !billing.IsConfigurationError(err) {
				t.Error("invalid rate line should be a configuration error")
			}
		})
	}
}

func TestRateLine_Validate_AcceptsBoundaryValues(t *testing.T) {
	line := perUnit("ok", "0")
	line.DiscountPercent = d("100")
	line.MinimumCharge = d("10")
	line.MaximumCharge = d("10")
	line.EffectiveDate = datePtr(2025, time.March, 1)
	line.ExpiryDate = datePtr(2025, time.March, 1)

	if _, err := billing.NewRateLine(line); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Maximum of zero means uncapped, whatever the minimum.
	line.MaximumCharge = d("0")
	if _, err := billing.NewRateLine(line); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRateLine_IsActiveOn(t *testing.T) {
	line := perUnit("r", "1")
	line.EffectiveDate = datePtr(2025, time.January, 1)
	line.ExpiryDate = datePtr(2025, time.June, 30)

	cases := map[billing.TimePoint]bool{
		date(2024, time.December, 31): false,
		date(2025, time.January, 1):   true,
		date(2025, time.June, 30):     true,
		date(2025, time.July, 1):      false,
	}
	for day, want := range cases {
		if got := line.IsActiveOn(day); got != want {
			t.Errorf("IsActiveOn(%s) = %v, want %v", day, got, want)
		}
	}

	open := perUnit("open", "1")
	if !open.IsActiveOn(date(1999, time.January, 1)) {
		t.Error("a line without dates is always active")
	}
}

func TestRateLine_AppliesTo(t *testing.T) {
	generic := perUnit("generic", "1")
	scoped := perUnit("scoped", "1")
	scoped.ContainerType = "type_02"

	req := billing.RequestContext{
		ServiceType:   billing.ServiceStorage,
		ContainerType: "type_01",
		AsOf:          date(2025, time.May, 1),
	}

	if !generic.AppliesTo(req) {
		t.Error("generic line should apply to any container type")
	}
	if scoped.AppliesTo(req) {
		t.Error("scoped line should not apply to another container type")
	}

	req.ServiceType = billing.ServiceRetrieval
	if generic.AppliesTo(req) {
		t.Error("line should not apply to another service type")
	}
}

func TestRateLine_Supersede(t *testing.T) {
	old := perUnit("storage-v1", "0.40")
	old.ContainerType = "type_01"
	old.EffectiveDate = datePtr(2024, time.January, 1)
	old.Version = 1

	next := perUnit("storage-v2", "0.45")
	next.EffectiveDate = datePtr(2025, time.January, 1)

	got, err := old.Supersede(next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SupersedesID != old.ID || got.Version != 2 || got.ContainerType != "type_01" {
		t.Errorf("successor not linked to predecessor: %+v", got)
	}

	next.EffectiveDate = datePtr(2023, time.December, 1)
	if _, err := old.Supersede(next); !errors.Is(err, billing.ErrInvalidRateLine) {
		t.Errorf("expected ErrInvalidRateLine for an older successor, got %v", err)
	}
}
