package validation

import (
	"math/big"
	"regexp"
	"strings"
)

var (
	bicPattern      = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	sortCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
	ukAccountRegex  = regexp.MustCompile(`^[0-9]{8}$`)
	alnumPattern    = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	ibanShape       = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)
)

// compact strips the separators people commonly type inside account numbers.
func compact(s string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s))
}

// ValidBIC reports whether s is an 8 or 11 character SWIFT/BIC code.
func ValidBIC(s string) bool {
	return bicPattern.MatchString(strings.ToUpper(compact(s)))
}

// ValidIBAN checks shape and the ISO 13616 mod-97 checksum.
func ValidIBAN(s string) bool {
	iban := strings.ToUpper(compact(s))
	if !ibanShape.MatchString(iban) {
		return false
	}
	rearranged := iban[4:] + iban[:4]

	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			digits.WriteString(big.NewInt(int64(r-'A') + 10).String())
		default:
			return false
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

func ValidSortCode(s string) bool {
	return sortCodePattern.MatchString(compact(s))
}

func ValidUKAccount(s string) bool {
	return ukAccountRegex.MatchString(compact(s))
}

// ValidGenericAccount accepts 4 to 34 alphanumeric characters.
func ValidGenericAccount(s string) bool {
	s = compact(s)
	return len(s) >= 4 && len(s) <= 34 && alnumPattern.MatchString(s)
}
