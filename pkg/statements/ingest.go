package statements

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

// commonDateLayouts are tried when a fingerprint carries no date
// format or its format does not parse a value, most specific first.
var commonDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// layoutReplacer rewrites fingerprint date-format tokens into a Go
// time layout. Longer tokens are listed first so MM wins over M.
var layoutReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"M", "1",
	"D", "2",
)

// DateLayout converts a fingerprint date format written with YYYY, MM
// and DD tokens into a Go time layout: "MM/DD/YYYY" becomes
// "01/02/2006".
func DateLayout(format string) string {
	return layoutReplacer.Replace(format)
}

// ReadStatement splits a CSV statement into its header row and data
// rows. Rows may be ragged; ApplyFingerprint treats missing trailing
// cells as empty. A UTF-8 BOM on the first header is stripped.
func ReadStatement(r io.Reader) (headers []string, rows [][]string, err error) {
	const op = "statements.ReadStatement"
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, problem.Wrap(problem.KindParse, op, err)
	}
	if len(records) == 0 {
		return nil, nil, problem.Validationf(op, "statement has no header row")
	}

	headers = records[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")
	}
	return headers, records[1:], nil
}

// ApplyFingerprint interprets raw statement rows under a resolved
// fingerprint: dates parse per the fingerprint's format, amounts are
// canonicalized to charges-negative, column values land on their
// mapped fields. Header matching is case-insensitive because the hash
// that selected the fingerprint is. Rows whose mapped cells are all
// empty are skipped; a cell that will not parse fails the whole batch
// with its row number.
func ApplyFingerprint(fp *expense.StatementFingerprint, headers []string, rows [][]string) ([]expense.StatementRow, error) {
	const op = "statements.ApplyFingerprint"
	if fp == nil || !mappingComplete(fp.ColumnMapping) {
		return nil, problem.Validationf(op, "fingerprint must map date, amount and description")
	}

	byHeader := make(map[string]expense.ColumnField, len(fp.ColumnMapping))
	for header, field := range fp.ColumnMapping {
		byHeader[strings.ToLower(strings.TrimSpace(header))] = field
	}
	fields := make([]expense.ColumnField, len(headers))
	for i, h := range headers {
		fields[i] = byHeader[strings.ToLower(strings.TrimSpace(h))]
	}

	out := make([]expense.StatementRow, 0, len(rows))
	for n, cells := range rows {
		row, used, err := applyRow(fp, fields, cells)
		if err != nil {
			return nil, problem.Wrapf(problem.KindParse, op, err, "row %d", n+1)
		}
		if used {
			out = append(out, row)
		}
	}
	return out, nil
}

// applyRow maps one raw row. used is false for a row whose mapped
// cells are all empty (separator and footer lines).
func applyRow(fp *expense.StatementFingerprint, fields []expense.ColumnField, cells []string) (row expense.StatementRow, used bool, err error) {
	cell := func(i int) string {
		if i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	var dateRaw, postRaw, amountRaw string
	for i, field := range fields {
		v := cell(i)
		if field == "" || field == expense.FieldIgnore || v == "" {
			continue
		}
		used = true
		switch field {
		case expense.FieldDate:
			dateRaw = v
		case expense.FieldPostDate:
			postRaw = v
		case expense.FieldAmount:
			amountRaw = v
		case expense.FieldDescription:
			row.Description = v
		case expense.FieldCategory:
			row.Category = v
		case expense.FieldMemo:
			row.Memo = v
		case expense.FieldReference:
			row.Reference = v
		}
	}
	if !used {
		return expense.StatementRow{}, false, nil
	}

	if row.Date, err = parseDate(dateRaw, fp.DateFormat); err != nil {
		return expense.StatementRow{}, false, err
	}
	if postRaw != "" {
		post, err := parseDate(postRaw, fp.DateFormat)
		if err != nil {
			return expense.StatementRow{}, false, err
		}
		row.PostDate = &post
	}

	if row.Amount, err = expense.ParseMoney(amountRaw); err != nil {
		return expense.StatementRow{}, false, err
	}
	if fp.AmountSign == expense.PositiveCharges {
		row.Amount = -row.Amount
	}
	return row, true, nil
}

func parseDate(value, format string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if format != "" {
		if t, err := time.Parse(DateLayout(format), value); err == nil {
			return t, nil
		}
	}
	for _, layout := range commonDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
