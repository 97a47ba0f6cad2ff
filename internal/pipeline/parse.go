package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// ErrNoRows is returned when a payload parses but yields no usable rows.
var ErrNoRows = errors.New("payload contains no rows")

var delimiters = []rune{';', ',', '\t'}

var headerAliases = map[string]string{
	"year":      "year",
	"ano":       "year",
	"month":     "month",
	"mes":       "month",
	"mês":       "month",
	"value":     "value",
	"valor":     "value",
	"unit":      "unit",
	"unidade":   "unit",
	"category":  "category",
	"categoria": "category",
}

// Values published by Brazilian statistics offices for suppressed or missing cells.
var missingValues = map[string]bool{"": true, "-": true, "..": true, "...": true, "X": true}

// ParseRows decodes a payload into rows. A payload starting with '[' is read as
// a JSON array of rows; anything else as delimited text with a header line.
func ParseRows(payload []byte) ([]domain.Row, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(payload, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, ErrNoRows
	}
	var (
		rows []domain.Row
		err  error
	)
	if trimmed[0] == '[' {
		rows, err = parseJSON(trimmed)
	} else {
		rows, err = parseDelimited(trimmed)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

func parseJSON(data []byte) ([]domain.Row, error) {
	var raw []domain.Row
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode json rows: %w", err)
	}
	rows := raw[:0]
	for _, r := range raw {
		if r.Value != nil {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func parseDelimited(data []byte) ([]domain.Row, error) {
	header, _, _ := bytes.Cut(data, []byte("\n"))
	delim := detectDelimiter(string(header))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		if name, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	if _, ok := cols["year"]; !ok {
		return nil, errors.New("header has no year column")
	}
	if _, ok := cols["value"]; !ok {
		return nil, errors.New("header has no value column")
	}

	var rows []domain.Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, ok, err := recordToRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// detectDelimiter picks the candidate that splits the header into the most fields.
func detectDelimiter(header string) rune {
	best, bestCount := delimiters[0], 0
	for _, d := range delimiters {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func recordToRow(rec []string, cols map[string]int) (domain.Row, bool, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rawValue := field("value")
	if missingValues[rawValue] {
		return domain.Row{}, false, nil
	}
	year, err := strconv.Atoi(field("year"))
	if err != nil {
		return domain.Row{}, false, fmt.Errorf("invalid year %q", field("year"))
	}
	var month int
	if m := field("month"); m != "" {
		if month, err = strconv.Atoi(m); err != nil {
			return domain.Row{}, false, fmt.Errorf("invalid month %q", m)
		}
	}
	value, err := parseNumber(rawValue)
	if err != nil {
		return domain.Row{}, false, err
	}
	return domain.Row{
		Year:     year,
		Month:    month,
		Value:    &value,
		Unit:     field("unit"),
		Category: field("category"),
	}, true, nil
}

// parseNumber accepts both "1234.5" and the Brazilian "1.234,5".
func parseNumber(s string) (float64, error) {
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}
