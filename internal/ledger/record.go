// Package ledger turns an externally produced ticketing export (delimited
// text or xlsx) into normalized ledger records.
//
// A Reader is lazy: rows are decoded one at a time as Next is called. It is
// restartable only by re-parsing, so calling Open again on the same bytes
// with the same Mapping yields an identical record sequence.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"travel-admin-backend/internal/apperr"
)

// Field is a logical ledger field name.
type Field string

const (
	FieldPassengerName    Field = "passenger_name"
	FieldTicketNumber     Field = "ticket_number"
	FieldAirlineReference Field = "airline_reference"
	FieldRoute            Field = "route"
	FieldTravelDate       Field = "travel_date"
	FieldFareAmount       Field = "fare_amount"
)

// AllFields in the order they are resolved.
var AllFields = []Field{
	FieldPassengerName,
	FieldTicketNumber,
	FieldAirlineReference,
	FieldRoute,
	FieldTravelDate,
	FieldFareAmount,
}

// RequiredFields must be resolvable from the header row.
var RequiredFields = []Field{FieldTicketNumber, FieldAirlineReference}

func (f Field) Known() bool {
	for _, k := range AllFields {
		if f == k {
			return true
		}
	}
	return false
}

// FieldFlag marks a value that was kept as raw text because it did not parse.
type FieldFlag struct {
	Field  Field  `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Record is one ledger row after column mapping.
type Record struct {
	// Row is the 1-based row in the source file, header included.
	Row        int
	Fields     map[Field]string
	TravelDate *time.Time
	FareAmount *decimal.Decimal
	Flags      []FieldFlag
}

// Get returns the raw value of f, or "" when the column is absent.
func (r Record) Get(f Field) string {
	return r.Fields[f]
}

func (r Record) Flagged(f Field) bool {
	for _, fl := range r.Flags {
		if fl.Field == f {
			return true
		}
	}
	return false
}

// Reader yields records in file order. Next returns io.EOF after the last row.
type Reader interface {
	Next() (Record, error)
	Close() error
}

// ColumnRef points at a source column by header name or 0-based index.
type ColumnRef struct {
	Name    string
	Index   int
	ByIndex bool
}

func (c ColumnRef) String() string {
	if c.ByIndex {
		return "column " + strconv.Itoa(c.Index)
	}
	return strconv.Quote(c.Name)
}

// UnmarshalJSON accepts either a header name or a column index.
func (c *ColumnRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ColumnRef{Name: s}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("column reference must be a header name or index, got %s", b)
	}
	*c = ColumnRef{Index: n, ByIndex: true}
	return nil
}

func (c ColumnRef) MarshalJSON() ([]byte, error) {
	if c.ByIndex {
		return json.Marshal(c.Index)
	}
	return json.Marshal(c.Name)
}

// Mapping assigns logical fields to source columns. Fields left out are
// resolved through the default header aliases.
type Mapping map[Field]ColumnRef

// ParseMapping decodes and validates a JSON column mapping such as
// {"ticket_number": "Tkt No", "travel_date": 4}. Empty input yields nil.
func ParseMapping(raw []byte) (Mapping, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var m Mapping
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&m); err != nil {
		return nil, apperr.Validation("invalid column mapping: " + err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperr.Validation("invalid column mapping: trailing data")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m Mapping) Validate() error {
	var unknown []string
	for f, ref := range m {
		if !f.Known() {
			unknown = append(unknown, string(f))
			continue
		}
		if ref.ByIndex && ref.Index < 0 {
			return apperr.Validation(fmt.Sprintf("column mapping for %s: index must be >= 0", f))
		}
		if !ref.ByIndex && ref.Name == "" {
			return apperr.Validation(fmt.Sprintf("column mapping for %s: empty column name", f))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperr.Validation(fmt.Sprintf("column mapping: unknown fields %v", unknown))
	}
	return nil
}
