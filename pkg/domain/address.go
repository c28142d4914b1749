package domain

import "strings"

// Governorate is a first-level administrative division of Yemen.
type Governorate string

const (
	GovernorateAmanatAlAsimah Governorate = "amanat_al_asimah"
	GovernorateSanaa          Governorate = "sanaa"
	GovernorateAden           Governorate = "aden"
	GovernorateTaiz           Governorate = "taiz"
	GovernorateHodeidah       Governorate = "hodeidah"
	GovernorateIbb            Governorate = "ibb"
	GovernorateDhamar         Governorate = "dhamar"
	GovernorateHadramaut      Governorate = "hadramaut"
	GovernorateMarib          Governorate = "marib"
	GovernorateAlBayda        Governorate = "al_bayda"
	GovernorateLahij          Governorate = "lahij"
	GovernorateAbyan          Governorate = "abyan"
	GovernorateShabwah        Governorate = "shabwah"
	GovernorateAlMahrah       Governorate = "al_mahrah"
	GovernorateSocotra        Governorate = "socotra"
	GovernorateAlJawf         Governorate = "al_jawf"
	GovernorateSaada          Governorate = "saada"
	GovernorateHajjah         Governorate = "hajjah"
	GovernorateAmran          Governorate = "amran"
	GovernorateAlMahwit       Governorate = "al_mahwit"
	GovernorateRaymah         Governorate = "raymah"
	GovernorateAlDhale        Governorate = "al_dhale"
)

var governorates = map[Governorate]struct{}{
	GovernorateAmanatAlAsimah: {}, GovernorateSanaa: {}, GovernorateAden: {},
	GovernorateTaiz: {}, GovernorateHodeidah: {}, GovernorateIbb: {},
	GovernorateDhamar: {}, GovernorateHadramaut: {}, GovernorateMarib: {},
	GovernorateAlBayda: {}, GovernorateLahij: {}, GovernorateAbyan: {},
	GovernorateShabwah: {}, GovernorateAlMahrah: {}, GovernorateSocotra: {},
	GovernorateAlJawf: {}, GovernorateSaada: {}, GovernorateHajjah: {},
	GovernorateAmran: {}, GovernorateAlMahwit: {}, GovernorateRaymah: {},
	GovernorateAlDhale: {},
}

func (g Governorate) IsValid() bool {
	_, ok := governorates[g]
	return ok
}

// DefaultCountry is applied when an address leaves the country blank.
const DefaultCountry = "YE"

// Address is a postal address. Governorate is mandatory.
type Address struct {
	Street      string      `json:"street" validate:"required"`
	District    string      `json:"district,omitempty"`
	City        string      `json:"city" validate:"required"`
	Governorate Governorate `json:"governorate" validate:"governorate"`
	Country     string      `json:"country,omitempty"`
	PostalCode  string      `json:"postal_code,omitempty"`
}

// Normalized returns a copy with whitespace trimmed and the country defaulted.
func (a Address) Normalized() Address {
	a.Street = strings.TrimSpace(a.Street)
	a.District = strings.TrimSpace(a.District)
	a.City = strings.TrimSpace(a.City)
	a.Governorate = Governorate(strings.ToLower(strings.TrimSpace(string(a.Governorate))))
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = DefaultCountry
	}
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	return a
}

// Contact is the person to reach about a party or a bank branch.
type Contact struct {
	Name  string `json:"name" validate:"required"`
	Role  string `json:"role,omitempty"`
	Phone string `json:"phone" validate:"ye_phone"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Fax   string `json:"fax,omitempty" validate:"omitempty,ye_phone"`
}

// Normalized returns a copy whose phone and fax numbers are in canonical form.
// Numbers that cannot be parsed are left untouched for validation to reject.
func (c Contact) Normalized() Contact {
	c.Name = strings.TrimSpace(c.Name)
	c.Role = strings.TrimSpace(c.Role)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if phone, ok := NormalizePhone(c.Phone); ok {
		c.Phone = phone
	}
	if c.Fax != "" {
		if fax, ok := NormalizePhone(c.Fax); ok {
			c.Fax = fax
		}
	}
	return c
}
