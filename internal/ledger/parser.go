package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SourceKindFromFilename infers the source kind from a file extension.
func SourceKindFromFilename(name string) (models.SourceKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt", ".psv":
		return models.SourceDelimited, true
	case ".xlsx", ".xlsm", ".xltx":
		return models.SourceSpreadsheet, true
	}
	return "", false
}

// Open resolves the header row of data and returns a Reader positioned on
// the first data row.
func Open(data []byte, kind models.SourceKind, mapping Mapping) (Reader, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	var (
		rows rowSource
		err  error
	)
	switch kind {
	case models.SourceDelimited:
		rows, err = newDelimitedRows(data)
	case models.SourceSpreadsheet:
		rows, err = newSpreadsheetRows(data)
	default:
		return nil, apperr.Validation("unsupported source kind " + string(kind))
	}
	if err != nil {
		return nil, err
	}

	header, headerRow, err := firstNonBlank(rows)
	if err == io.EOF {
		rows.close()
		return nil, apperr.MalformedInput("file has no header row", 0, nil)
	}
	if err != nil {
		rows.close()
		return nil, err
	}

	cols, missing := resolveColumns(header, mapping)
	if len(missing) > 0 {
		rows.close()
		e := apperr.SchemaMismatch(missing)
		e.Row = headerRow
		return nil, e
	}
	return &reader{rows: rows, cols: cols}, nil
}

// rowSource abstracts the raw cell grid of one file.
type rowSource interface {
	// next returns the cells and 1-based row number of the next row.
	next() ([]string, int, error)
	close() error
}

func firstNonBlank(rows rowSource) ([]string, int, error) {
	for {
		cells, n, err := rows.next()
		if err != nil {
			return nil, 0, err
		}
		if !blank(cells) {
			return cells, n, nil
		}
	}
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

type reader struct {
	rows rowSource
	cols map[Field]int
}

func (r *reader) Next() (Record, error) {
	for {
		cells, n, err := r.rows.next()
		if err != nil {
			return Record{}, err
		}
		if blank(cells) {
			continue
		}
		return r.build(cells, n), nil
	}
}

func (r *reader) Close() error {
	return r.rows.close()
}

func (r *reader) build(cells []string, row int) Record {
	rec := Record{Row: row, Fields: make(map[Field]string, len(r.cols))}
	for f, idx := range r.cols {
		v := ""
		if idx < len(cells) {
			v = strings.TrimSpace(cells[idx])
		}
		rec.Fields[f] = v
	}

	if v := rec.Fields[FieldTravelDate]; v != "" {
		if t, err := parseDate(v); err == nil {
			rec.TravelDate = &t
		} else {
			rec.Flags = append(rec.Flags, FieldFlag{Field: FieldTravelDate, Value: v, Reason: "unparsable date"})
		}
	}
	if v := rec.Fields[FieldFareAmount]; v != "" {
		if d, err := parseAmount(v); err == nil {
			rec.FareAmount = &d
		} else {
			rec.Flags = append(rec.Flags, FieldFlag{Field: FieldFareAmount, Value: v, Reason: "unparsable amount"})
		}
	}
	return rec
}

// delimited text

type delimitedRows struct {
	r *csv.Reader
}

func newDelimitedRows(data []byte) (*delimitedRows, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, apperr.MalformedInput("file is neither UTF-8 nor Windows-1252 text", 0, err)
		}
		data = decoded
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, apperr.MalformedInput("file contains binary data, not delimited text", 0, nil)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = false
	return &delimitedRows{r: r}, nil
}

// sniffDelimiter picks the most frequent candidate separator on the first line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, c := range []rune{',', '\t', ';', '|'} {
		if n := strings.Count(string(line), string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func (d *delimitedRows) next() ([]string, int, error) {
	cells, err := d.r.Read()
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, 0, apperr.MalformedInput("invalid delimited text", pe.StartLine, pe.Err)
		}
		return nil, 0, apperr.MalformedInput("invalid delimited text", 0, err)
	}
	line, _ := d.r.FieldPos(0)
	return cells, line, nil
}

func (d *delimitedRows) close() error { return nil }

// spreadsheet

type spreadsheetRows struct {
	f    *excelize.File
	rows *excelize.Rows
	n    int
}

func newSpreadsheetRows(data []byte) (*spreadsheetRows, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.MalformedInput("file is not a readable xlsx workbook", 0, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, apperr.MalformedInput("workbook has no sheets", 0, nil)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, apperr.MalformedInput("cannot read sheet "+sheets[0], 0, err)
	}
	return &spreadsheetRows{f: f, rows: rows}, nil
}

func (s *spreadsheetRows) next() ([]string, int, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, 0, apperr.MalformedInput("invalid sheet data", s.n+1, err)
		}
		return nil, 0, io.EOF
	}
	s.n++
	cells, err := s.rows.Columns()
	if err != nil {
		return nil, 0, apperr.MalformedInput("invalid sheet row", s.n, err)
	}
	return cells, s.n, nil
}

func (s *spreadsheetRows) close() error {
	_ = s.rows.Close()
	return s.f.Close()
}
