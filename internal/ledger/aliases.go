package ledger

import (
	"strings"
	"unicode"
)

// headerAliases are the recognized header spellings per logical field, in
// normalized form (see normalizeHeader).
var headerAliases = map[Field][]string{
	FieldPassengerName: {
		"passenger name", "passenger", "pax name", "pax", "name",
		"traveler", "traveller", "traveller name", "passenger full name",
	},
	FieldTicketNumber: {
		"ticket number", "ticket no", "ticket", "tkt", "tkt no", "tkt number",
		"e ticket", "eticket", "e ticket number", "document number",
	},
	FieldAirlineReference: {
		"pnr", "booking ref", "booking reference", "airline reference",
		"airline ref", "record locator", "pnr code", "locator", "reservation code",
	},
	FieldRoute: {
		"route", "sector", "itinerary", "routing", "origin destination", "o d", "o&d",
	},
	FieldTravelDate: {
		"travel date", "date", "departure date", "flight date", "dep date",
		"date of travel", "departure",
	},
	FieldFareAmount: {
		"fare", "fare amount", "amount", "total fare", "total", "price", "net fare",
	},
}

var aliasIndex = func() map[string]Field {
	idx := make(map[string]Field)
	for f, aliases := range headerAliases {
		for _, a := range aliases {
			idx[normalizeHeader(a)] = f
		}
		idx[normalizeHeader(string(f))] = f
	}
	return idx
}()

// normalizeHeader lowercases and collapses every run of non-alphanumeric
// characters into one space, so "Ticket_No." and "ticket no" are equal.
func normalizeHeader(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// resolveColumns maps logical fields onto header positions. Explicit mapping
// entries win; the rest fall back to aliases. It returns the unresolved
// required fields (with the reason when a mapping entry was wrong).
func resolveColumns(header []string, mapping Mapping) (map[Field]int, []string) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}

	cols := make(map[Field]int)
	var missing []string
	taken := make(map[int]bool)

	for _, f := range AllFields {
		ref, ok := mapping[f]
		if !ok {
			continue
		}
		idx := -1
		if ref.ByIndex {
			if ref.Index < len(header) {
				idx = ref.Index
			}
		} else {
			want := normalizeHeader(ref.Name)
			for i, h := range normalized {
				if h == want {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			missing = append(missing, string(f)+" (mapped to "+ref.String()+")")
			continue
		}
		cols[f] = idx
		taken[idx] = true
	}

	for _, f := range AllFields {
		if _, ok := mapping[f]; ok {
			continue
		}
		for i, h := range normalized {
			if taken[i] {
				continue
			}
			if aliasIndex[h] == f {
				cols[f] = i
				taken[i] = true
				break
			}
		}
	}

	for _, f := range RequiredFields {
		if _, ok := cols[f]; ok {
			continue
		}
		if _, mapped := mapping[f]; mapped {
			continue // already reported above
		}
		missing = append(missing, string(f))
	}
	return cols, missing
}
