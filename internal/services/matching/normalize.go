package matching

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// honorifics dropped from passenger names before comparison. Airline exports
// append them to the given name ("DOE/JOHN MR").
var honorifics = map[string]bool{
	"MR": true, "MRS": true, "MS": true, "MISS": true, "MSTR": true,
	"MASTER": true, "DR": true, "PROF": true, "SIR": true, "MADAM": true,
	"CHD": true, "INF": true, "TUAN": true, "NYONYA": true, "NONA": true,
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// nameTokens returns the upper-cased, diacritic-free name parts without
// honorifics, sorted so that "DOE/JOHN" and "John Doe" compare equal.
func nameTokens(name string) []string {
	fields := strings.FieldsFunc(strings.ToUpper(foldDiacritics(name)), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !honorifics[f] {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeName(name string) string {
	return strings.Join(nameTokens(name), " ")
}

// routeTokens splits "CGK-DPS", "CGK/DPS" or "CGK DPS" into airport codes,
// keeping the travel order.
func routeTokens(route string) []string {
	return strings.FieldsFunc(strings.ToUpper(route), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeIdentifier keeps letters and digits only, upper-cased, so
// "157-2401234567" equals "1572401234567" and "abc 123" equals "ABC123".
func normalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
