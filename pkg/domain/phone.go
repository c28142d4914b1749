package domain

import (
	"regexp"
	"strings"
)

// CountryCallingCode is the prefix every canonical phone number carries.
const CountryCallingCode = "+967"

var (
	mobilePattern   = regexp.MustCompile(`^7[01378]\d{7}$`)
	landlinePattern = regexp.MustCompile(`^[1-7]\d{6}$`)

	registrationNumberPattern = regexp.MustCompile(`^\d{8}$`)
	taxIDPattern              = regexp.MustCompile(`^\d{9}$`)

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// NormalizePhone converts a local or international Yemeni number into the
// canonical +967XXXXXXXXX form. It reports false when the input is not a
// recognizable mobile or landline number.
func NormalizePhone(raw string) (string, bool) {
	n := phoneSeparators.Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(n, "+967"):
		n = n[4:]
	case strings.HasPrefix(n, "00967"):
		n = n[5:]
	case strings.HasPrefix(n, "967") && len(n) > 9:
		n = n[3:]
	}
	n = strings.TrimPrefix(n, "0")

	if mobilePattern.MatchString(n) || landlinePattern.MatchString(n) {
		return CountryCallingCode + n, true
	}
	return "", false
}

// ValidPhone reports whether raw can be normalized.
func ValidPhone(raw string) bool {
	_, ok := NormalizePhone(raw)
	return ok
}

// ValidRegistrationNumber checks a commercial registration number (8 digits).
func ValidRegistrationNumber(s string) bool {
	return registrationNumberPattern.MatchString(s)
}

// ValidTaxID checks a tax identification number (9 digits).
func ValidTaxID(s string) bool {
	return taxIDPattern.MatchString(s)
}
