package testutils

import (
	"encoding/json"
	"math/rand"
	"strings"
)

// ValidSuggestionJSON is a well-formed suggestion set used as the seed for
// malformed variants.
const ValidSuggestionJSON = `{"overallSummary":"Tighten error handling in the loader","codeSuggestions":[` +
	`{"relevantFile":"internal/loader.go","language":"go","suggestionContent":"Wrap the read error with the path.",` +
	`"existingCode":"return err","improvedCode":"return fmt.Errorf(\"read %s: %w\", path, err)",` +
	`"oneSentenceSummary":"Add context to read errors","relevantLinesStart":42,"relevantLinesEnd":44,"label":"error_handling"},` +
	`{"relevantFile":"internal/cache.go","language":"go","suggestionContent":"Close the file handle.",` +
	`"oneSentenceSummary":"Fix a descriptor leak","relevantLinesStart":"10","relevantLinesEnd":"12","label":"resource_leak"}]}`

// EscapeLevels serializes s as a JSON string n times, producing the nested
// escaping seen when payloads pass through several JSON encoders.
func EscapeLevels(s string, n int) string {
	for range n {
		data, _ := json.Marshal(s)
		s = string(data)
	}
	return s
}

// MalformedPayloads returns a deterministic corpus of deliberately broken
// payloads: truncations, binary garbage, deep escaping, template syntax,
// broken fences and degenerate inputs. Every entry must be survivable by
// the recovery engine.
func MalformedPayloads() []string {
	corpus := []string{
		"",
		" ",
		"\n\n\t",
		"null",
		"true",
		"42",
		`"just a string"`,
		"{",
		"}",
		"[",
		"]",
		"{{{{",
		"[[[[]]]",
		`{"a":}`,
		`{"a":1,,}`,
		`{"a" 1}`,
		`{'a': 'single quotes'}`,
		`{a: 1}`,
		`{"overallSummary": "unterminated`,
		`{"codeSuggestions": [{"relevantFile": "x.go", "label": "bug"`,
		`{"overallSummary": "s", "codeSuggestions": [{"relevantFile": "x.go" "label": "bug"}]}`,
		`{"codeSuggestions": []`,
		"{\"code\": `let x = ${y};`}",
		"{\"code\": ${unterminated",
		"```json\n{\"overallSummary\": \"fenced but broken\",\n```",
		"```json\n```",
		"```json",
		"``````",
		`{"content": "` + "```json\\n{\\\"overallSummary\\\":\\\"nested\\\"" + `"}`,
		`{"output": "{\"output\": \"{\\\"output\\\": 1}\"}"}`,
		"\x00\x01\x02\x03",
		"\xff\xfe\xfd",
		"{\"a\":\"\x00\x1f\x7f\"}",
		"   ",
		`\\\\\\\\\\\\`,
		`\"\"\"\"`,
		`%7B%22a`,
		`&quot;&amp;&lt;`,
		`\u0000\u0001\uZZZZ`,
		strings.Repeat("{", 2000),
		strings.Repeat("[", 2000) + strings.Repeat("]", 1999),
		strings.Repeat(`\"`, 500),
		strings.Repeat("a", 10000),
		EscapeLevels(ValidSuggestionJSON, 3)[:200],
		EscapeLevels(ValidSuggestionJSON, 4),
		EscapeLevels(ValidSuggestionJSON, 6),
		EscapeLevels(`{"broken":`, 2),
	}

	// Truncations of a valid document at a spread of offsets.
	for _, cut := range []int{1, 7, 19, 33, 64, 101, 150, 222, 300, 411} {
		if cut < len(ValidSuggestionJSON) {
			corpus = append(corpus, ValidSuggestionJSON[:cut])
		}
	}

	// Seeded binary garbage.
	rng := rand.New(rand.NewSource(7))
	for range 8 {
		buf := make([]byte, 16+rng.Intn(240))
		for i := range buf {
			buf[i] = byte(rng.Intn(256))
		}
		corpus = append(corpus, string(buf))
	}

	return corpus
}
