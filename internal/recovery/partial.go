package recovery

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ahrav/go-arbiter/internal/domain"
)

const (
	// PartialLabel marks suggestions rebuilt from fragments.
	PartialLabel = "extracted_partial"

	partialContentLimit = 200
	missingSummary      = "Partial recovery: the overall summary could not be extracted"
	missingItemSummary  = "Suggestion recovered from a malformed payload"
	missingItemContent  = "Suggestion content not extractable"
)

var (
	// fencedBlock matches a ```json fence whose opening line break may be a
	// real newline or an escaped \n left over from a serialized string.
	fencedBlock = regexp.MustCompile("(?s)```json(?:\\s|\\\\n|\\\\r)*(.*?)(?:\\\\n|\\s)*```")

	contentField  = regexp.MustCompile(`"content"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	summaryField  = regexp.MustCompile(`"overallSummary"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	firstItem     = regexp.MustCompile(`"codeSuggestions"\s*:\s*\[\s*(\{[\s\S]*?\})\s*[,\]]`)
	emptyItems    = regexp.MustCompile(`"codeSuggestions"\s*:\s*\[\s*\]`)
	fileField     = regexp.MustCompile(`"relevantFile"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	bodyField     = regexp.MustCompile(`"suggestionContent"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	oneLineField  = regexp.MustCompile(`"oneSentenceSummary"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	fragmentClean = strings.NewReplacer("\\`", "`", `\"`, `"`)
)

// FencedJSON returns the contents of the first ```json fenced block in s.
func FencedJSON(s string) (string, bool) {
	m := fencedBlock.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	body := strings.TrimSpace(m[1])
	return body, body != ""
}

// HasFence reports whether s contains a ```json fence.
func HasFence(s string) bool { return strings.Contains(s, "```json") }

// ContentField returns the decoded value of the first "content" string
// field found anywhere in s, even when s as a whole is not valid JSON.
func ContentField(s string) (string, bool) {
	m := contentField.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return unquoteFragment(m[1]), true
}

// PartialExtract rebuilds a minimal suggestion set from a payload that no
// tier could decode. It succeeds when either the overall summary or the
// first suggestion can be located. A first suggestion that does not decode
// degrades to a stub labeled PartialLabel, provided its file or content
// field can still be read; otherwise the suggestion list stays empty.
func PartialExtract(s string) (map[string]any, bool) {
	summary, hasSummary := "", false
	if m := summaryField.FindStringSubmatch(s); m != nil {
		summary, hasSummary = unquoteFragment(m[1]), true
	}

	items := []any{}
	hasItems := false
	if m := firstItem.FindStringSubmatch(s); m != nil {
		hasItems = true
		if item, ok := partialItem(m[1]); ok {
			items = append(items, item)
		}
	} else if emptyItems.MatchString(s) {
		hasItems = true
	}

	if !hasSummary && !hasItems {
		return nil, false
	}
	if !hasSummary {
		summary = missingSummary
	}
	return map[string]any{
		"overallSummary":  summary,
		"codeSuggestions": items,
	}, true
}

func partialItem(fragment string) (any, bool) {
	cleaned := stripControl(fragmentClean.Replace(fragment))
	for _, candidate := range []string{fragment, cleaned} {
		var item map[string]any
		if err := json.Unmarshal([]byte(candidate), &item); err == nil {
			return item, true
		}
	}

	fileMatch := findField(fileField, fragment, cleaned)
	bodyMatch := findField(bodyField, fragment, cleaned)
	if fileMatch == nil && bodyMatch == nil {
		return nil, false
	}

	file := "unknown"
	if fileMatch != nil && fileMatch[1] != "" {
		file = unquoteFragment(fileMatch[1])
	}
	content := missingItemContent
	if bodyMatch != nil {
		content = domain.Truncate(unquoteFragment(bodyMatch[1]), partialContentLimit)
	}
	oneLine := missingItemSummary
	if m := findField(oneLineField, fragment, cleaned); m != nil && m[1] != "" {
		oneLine = unquoteFragment(m[1])
	}
	return map[string]any{
		"relevantFile":       file,
		"suggestionContent":  content,
		"oneSentenceSummary": oneLine,
		"label":              PartialLabel,
	}, true
}

// findField matches re against the raw fragment, then against its
// de-escaped form for payloads that were serialized twice.
func findField(re *regexp.Regexp, raw, cleaned string) []string {
	if m := re.FindStringSubmatch(raw); m != nil {
		return m
	}
	return re.FindStringSubmatch(cleaned)
}

// unquoteFragment decodes the body of a JSON string literal, keeping the raw
// text when the escapes are themselves broken.
func unquoteFragment(body string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &out); err == nil {
		return out
	}
	return body
}
