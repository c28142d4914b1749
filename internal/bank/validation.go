// internal/bank/validation.go
package bank

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"guaranteedesk/pkg/domain"
)

var (
	maxCommissionRate = decimal.NewFromInt(10)

	standardDaysMin, standardDaysMax = 1, 30
	urgentDaysMin, urgentDaysMax     = 1, 7
)

// Validate checks a register request. Tag rules run first, then the rate
// table, processing days and working-time rules.
func (r *RegisterRequest) Validate(v *validator.Validate) error {
	ve := &domain.ValidationError{}
	if err := domain.ValidateStruct(v, r, ve); err != nil {
		return err
	}
	validateRates(r.CommissionRates, ve)
	validateSchedule(r.ProcessingDays, r.WorkingDays, r.WorkingHours, ve)
	return ve.OrNil()
}

// ValidateRates checks a replacement commission table.
func ValidateRates(rates map[domain.GuaranteeType]decimal.Decimal) error {
	ve := &domain.ValidationError{}
	if len(rates) == 0 {
		ve.Add("commission_rates", "must define at least one rate")
	}
	validateRates(rates, ve)
	return ve.OrNil()
}

func validateRates(rates map[domain.GuaranteeType]decimal.Decimal, ve *domain.ValidationError) {
	// iterate in the fixed type order so violations come out deterministic
	for _, t := range domain.GuaranteeTypes {
		rate, ok := rates[t]
		if !ok {
			continue
		}
		if rate.IsNegative() || rate.GreaterThan(maxCommissionRate) {
			ve.Addf("commission_rates."+string(t), "must be between 0 and %s percent", maxCommissionRate)
		}
	}
	for t := range rates {
		if !t.IsValid() {
			ve.Addf("commission_rates."+string(t), "is not a supported guarantee type")
		}
	}
}

func validateSchedule(days ProcessingDays, workingDays []time.Weekday, hours WorkingHours, ve *domain.ValidationError) {
	if days.Standard < standardDaysMin || days.Standard > standardDaysMax {
		ve.Addf("processing_days.standard", "must be between %d and %d", standardDaysMin, standardDaysMax)
	}
	if days.Urgent < urgentDaysMin || days.Urgent > urgentDaysMax {
		ve.Addf("processing_days.urgent", "must be between %d and %d", urgentDaysMin, urgentDaysMax)
	}

	if len(workingDays) == 0 {
		ve.Add("working_days", "must include at least one day")
	}
	for _, d := range workingDays {
		if d < time.Sunday || d > time.Saturday {
			ve.Add("working_days", "contains an invalid weekday")
			break
		}
	}

	open, errOpen := time.Parse("15:04", hours.Open)
	closing, errClose := time.Parse("15:04", hours.Close)
	switch {
	case errOpen != nil:
		ve.Add("working_hours.open", "must be a HH:MM time")
	case errClose != nil:
		ve.Add("working_hours.close", "must be a HH:MM time")
	case !open.Before(closing):
		ve.Add("working_hours.close", "must be after the opening time")
	}
}
