package catalog

import (
	"regexp"
	"strings"
)

var (
	codeSeparators = strings.NewReplacer(" ", "", "-", "", "\t", "")
	embeddedCode   = regexp.MustCompile(`\d{13}`)
)

// NormalizeCode strips separators from a user-supplied universal code and
// validates it as an EAN-13 (JAN) with a correct check digit.
func NormalizeCode(raw string) (string, error) {
	code := codeSeparators.Replace(strings.TrimSpace(raw))
	if code == "" {
		return "", Invalid("universal_code", "empty")
	}
	if len(code) != 13 {
		return "", Invalid("universal_code", "must be 13 digits")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", Invalid("universal_code", "must be numeric")
		}
	}
	if !validCheckDigit(code) {
		return "", Invalid("universal_code", "check digit mismatch")
	}
	return code, nil
}

// IsValidCode reports whether code is a well-formed EAN-13.
func IsValidCode(code string) bool {
	_, err := NormalizeCode(code)
	return err == nil && len(code) == 13
}

// ExtractCodes returns every checksum-valid 13-digit run in text, in order of
// first appearance.
func ExtractCodes(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range embeddedCode.FindAllString(text, -1) {
		if seen[m] || !validCheckDigit(m) {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// validCheckDigit applies the GS1 mod-10 rule (weights 1,3 from the left).
func validCheckDigit(code string) bool {
	sum := 0
	for i := 0; i < len(code)-1; i++ {
		d := int(code[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return check == int(code[len(code)-1]-'0')
}
