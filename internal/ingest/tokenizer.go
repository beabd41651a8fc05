// Package ingest turns raw review batches, CSV with JSON-bearing cells or a
// plain JSON document, into assembled comparison rows plus a diagnostic
// report. Malformed cells degrade to fallback records; malformed rows are
// skipped with a reason; only a batch with no surviving rows fails.
package ingest

import "strings"

// Record is one tokenized CSV row.
type Record struct {
	// Line is the 1-based physical line on which the row starts. Quoted
	// fields may span lines, so consecutive records can skip line numbers.
	Line int

	// Fields holds the decoded cell values, quotes removed and doubled
	// quotes collapsed.
	Fields []string
}

// Tokenize splits text into records. A double quote opens a quoted field
// only at the start of a field; inside quotes a doubled quote is a literal
// quote and a single quote closes the field, while commas and newlines are
// literal. Outside quotes a comma ends a field and a newline, with an
// optional preceding carriage return, ends a row. Rows holding nothing but
// whitespace are skipped.
//
// Tokenize never fails. Unbalanced quoting degrades to whatever fields the
// scan produced; an unterminated quote runs to the end of the text.
func Tokenize(text string) []Record {
	t := tokenizer{line: 1, rowLine: 1, blank: true}
	for i := 0; i < len(text); i++ {
		c := text[i]

		if t.inQuotes {
			switch {
			case c == '"' && i+1 < len(text) && text[i+1] == '"':
				t.field.WriteByte('"')
				i++
			case c == '"':
				t.inQuotes = false
			default:
				if c == '\n' {
					t.line++
				}
				t.field.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			t.blank = false
			if t.field.Len() == 0 {
				t.inQuotes = true
			} else {
				t.field.WriteByte(c)
			}
		case ',':
			t.blank = false
			t.endField()
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				continue
			}
			t.field.WriteByte(c)
		case '\n':
			t.endRow()
			t.line++
			t.rowLine = t.line
		default:
			if c != ' ' && c != '\t' {
				t.blank = false
			}
			t.field.WriteByte(c)
		}
	}
	t.endRow()
	return t.records
}

type tokenizer struct {
	records  []Record
	fields   []string
	field    strings.Builder
	inQuotes bool
	blank    bool
	line     int
	rowLine  int
}

func (t *tokenizer) endField() {
	t.fields = append(t.fields, t.field.String())
	t.field.Reset()
}

func (t *tokenizer) endRow() {
	t.endField()
	if !t.blank {
		t.records = append(t.records, Record{Line: t.rowLine, Fields: t.fields})
	}
	t.fields = nil
	t.blank = true
}

// QuoteField encodes value as a quoted CSV field, doubling embedded quotes.
func QuoteField(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// JoinRecord encodes fields as one CSV row, quoting every field.
func JoinRecord(fields ...string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = QuoteField(f)
	}
	return strings.Join(quoted, ",")
}
