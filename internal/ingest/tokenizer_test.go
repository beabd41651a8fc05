package ingest

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Record
	}{
		{
			name:  "plain rows",
			input: "a,b,c\n1,2,3",
			want: []Record{
				{Line: 1, Fields: []string{"a", "b", "c"}},
				{Line: 2, Fields: []string{"1", "2", "3"}},
			},
		},
		{
			name:  "quoted comma",
			input: `id,"x, y",z`,
			want:  []Record{{Line: 1, Fields: []string{"id", "x, y", "z"}}},
		},
		{
			name:  "doubled quotes",
			input: `"say ""hi"""`,
			want:  []Record{{Line: 1, Fields: []string{`say "hi"`}}},
		},
		{
			name:  "quoted newline spans lines",
			input: "h\n\"line1\nline2\",x\nnext",
			want: []Record{
				{Line: 1, Fields: []string{"h"}},
				{Line: 2, Fields: []string{"line1\nline2", "x"}},
				{Line: 4, Fields: []string{"next"}},
			},
		},
		{
			name:  "crlf rows",
			input: "a,b\r\nc,d\r\n",
			want: []Record{
				{Line: 1, Fields: []string{"a", "b"}},
				{Line: 2, Fields: []string{"c", "d"}},
			},
		},
		{
			name:  "blank and whitespace rows skipped",
			input: "a\n\n   \n\t\nb",
			want: []Record{
				{Line: 1, Fields: []string{"a"}},
				{Line: 5, Fields: []string{"b"}},
			},
		},
		{
			name:  "quote inside unquoted field is literal",
			input: `ab"c",d`,
			want:  []Record{{Line: 1, Fields: []string{`ab"c"`, "d"}}},
		},
		{
			name:  "unterminated quote runs to end",
			input: "\"unterminated,x\ny",
			want:  []Record{{Line: 1, Fields: []string{"unterminated,x\ny"}}},
		},
		{
			name:  "empty fields",
			input: ",,",
			want:  []Record{{Line: 1, Fields: []string{"", "", ""}}},
		},
		{
			name:  "empty quoted field",
			input: `"",x`,
			want:  []Record{{Line: 1, Fields: []string{"", "x"}}},
		},
		{
			name:  "lone carriage return is literal",
			input: "a\rb",
			want:  []Record{{Line: 1, Fields: []string{"a\rb"}}},
		},
		{
			name:  "quoted carriage return newline kept",
			input: "\"a\r\nb\"",
			want:  []Record{{Line: 1, Fields: []string{"a\r\nb"}}},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestTokenize_EscapedJSONCell(t *testing.T) {
	cell := `{"output": "{\"overallSummary\":\"x\",\"codeSuggestions\":[]}", "label":"Model A"}`
	records := Tokenize("id,ModelA_outputs\n1," + QuoteField(cell) + "\n")

	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", cell}, records[1].Fields)
}

func TestTokenize_RoundTrip(t *testing.T) {
	property := func(a, b string) bool {
		records := Tokenize(JoinRecord(a, b) + "\r\n" + JoinRecord(b) + "\n")
		return len(records) == 2 &&
			len(records[0].Fields) == 2 && records[0].Fields[0] == a && records[0].Fields[1] == b &&
			len(records[1].Fields) == 1 && records[1].Fields[0] == b
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 500}))
}

func TestTokenize_RoundTripSpecialCharacters(t *testing.T) {
	values := []string{
		"",
		",",
		`"`,
		`""`,
		"\n",
		"\r\n",
		"a,b\nc\"d\"",
		`{"a": "b, c"}`,
		"```json\n{\"x\": 1}\n```",
	}
	for _, v := range values {
		records := Tokenize(QuoteField(v))
		require.Len(t, records, 1, "value %q", v)
		assert.Equal(t, []string{v}, records[0].Fields)
	}
}

func FuzzTokenize(f *testing.F) {
	f.Add("a,b\n1,2")
	f.Add(`"x""y",z`)
	f.Add("\"open\n")
	f.Add("\r\n\r\n")
	f.Fuzz(func(t *testing.T, input string) {
		records := Tokenize(input)
		prev := 0
		for _, r := range records {
			if r.Line <= prev {
				t.Fatalf("line numbers not increasing: %d after %d", r.Line, prev)
			}
			prev = r.Line
			if len(r.Fields) == 0 {
				t.Fatal("record without fields")
			}
		}
	})
}

func FuzzTokenizeRoundTrip(f *testing.F) {
	f.Add("plain")
	f.Add(`with "quotes", commas`)
	f.Add("multi\nline\r\nvalue")
	f.Fuzz(func(t *testing.T, value string) {
		records := Tokenize(QuoteField(value))
		if len(records) != 1 || len(records[0].Fields) != 1 || records[0].Fields[0] != value {
			t.Fatalf("round trip of %q produced %#v", value, records)
		}
	})
}
