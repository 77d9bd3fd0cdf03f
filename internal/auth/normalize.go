package auth

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+[0-9]{6,15}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips common separators and returns the number in E.164 form
// with exactly one leading "+". "15550001234" and "+1 555 000-1234" map to the
// same text, which keys rate limits, the per-phone lock and identities.
func NormalizePhone(raw string) (string, error) {
	p := phoneSeparators.Replace(strings.TrimSpace(raw))
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	if !phonePattern.MatchString(p) {
		return "", ErrInvalidPhone
	}
	return p, nil
}
