package domain

// GuaranteeType classifies what obligation a guarantee secures.
type GuaranteeType string

const (
	GuaranteePerformance    GuaranteeType = "performance"
	GuaranteeAdvancePayment GuaranteeType = "advance_payment"
	GuaranteeMaintenance    GuaranteeType = "maintenance"
	GuaranteeBidBond        GuaranteeType = "bid_bond"
	GuaranteeCustoms        GuaranteeType = "customs"
	GuaranteeFinalPayment   GuaranteeType = "final_payment"
)

// GuaranteeTypes lists every supported kind in display order.
var GuaranteeTypes = []GuaranteeType{
	GuaranteePerformance,
	GuaranteeAdvancePayment,
	GuaranteeMaintenance,
	GuaranteeBidBond,
	GuaranteeCustoms,
	GuaranteeFinalPayment,
}

func (t GuaranteeType) IsValid() bool {
	for _, known := range GuaranteeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Currency is an ISO 4217 code accepted for guarantee amounts.
type Currency string

const (
	CurrencyYER Currency = "YER"
	CurrencySAR Currency = "SAR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

var Currencies = []Currency{CurrencyYER, CurrencySAR, CurrencyUSD, CurrencyEUR}

func (c Currency) IsValid() bool {
	for _, known := range Currencies {
		if c == known {
			return true
		}
	}
	return false
}
