// Package recovery turns strings that are supposed to be JSON, but often
// arrive doubly escaped, fenced in markdown, or truncated, into decoded
// values. It never fails outward: every input ends either as a parsed value
// or as a domain.Fallback carrying provenance.
package recovery

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

// Strategy is one named, pure string transform in the repair cascade.
// Strategies are tried in order, least destructive first.
type Strategy struct {
	Name      string
	Transform func(string) string
}

// Strategy names, in cascade order.
const (
	StrategyDirect            = "direct"
	StrategyTrim              = "trim"
	StrategyUnquoteEmbedded   = "unquote_embedded"
	StrategyLineEscapes       = "line_escapes"
	StrategyQuoteEscapes      = "quote_escapes"
	StrategyLineAndQuote      = "line_and_quote_escapes"
	StrategyStripControl      = "strip_control"
	StrategyTemplateLiterals  = "template_literals"
	StrategyCollapseEscapes   = "collapse_escapes"
	StrategyHTMLEntities      = "html_entities"
	StrategyPercentEncoding   = "percent_encoding"
	StrategyAggressive        = "aggressive"
	StrategyPartialExtraction = "partial_extraction"
	StrategyFallback          = "fallback"
	StrategyPassthrough       = "passthrough"
	StrategyAllEscapes        = "all_escapes"
)

// TemplatePlaceholder replaces template-literal interpolations.
const TemplatePlaceholder = "TEMPLATE_LITERAL"

var (
	// controlChars matches ASCII control characters other than tab, line
	// feed and carriage return, plus DEL.
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	// wideControlChars matches every C0 and C1 control character and DEL.
	wideControlChars = regexp.MustCompile(`[\x00-\x1F\x7F-\x{9F}]`)

	unicodeEscapes  = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
	lineEscapeRepl  = strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t")
	quoteEscapeRepl = strings.NewReplacer(`\"`, `"`)
	allEscapeRepl   = strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t", `\"`, `"`, `\'`, `'`, `\\`, `\`)
)

// cascade lists the transform tiers of Recover in order. Partial
// extraction and the fallback are not string transforms and are handled by
// the engine after these tiers are exhausted.
var cascade = []Strategy{
	{Name: StrategyDirect, Transform: identity},
	{Name: StrategyTrim, Transform: strings.TrimSpace},
	{Name: StrategyUnquoteEmbedded, Transform: unquoteEmbedded},
	{Name: StrategyLineEscapes, Transform: lineEscapes},
	{Name: StrategyQuoteEscapes, Transform: quoteEscapes},
	{Name: StrategyLineAndQuote, Transform: func(s string) string { return quoteEscapes(lineEscapes(s)) }},
	{Name: StrategyStripControl, Transform: stripControl},
	{Name: StrategyTemplateLiterals, Transform: replaceTemplates},
	{Name: StrategyCollapseEscapes, Transform: collapseEscapes},
	{Name: StrategyHTMLEntities, Transform: html.UnescapeString},
	{Name: StrategyPercentEncoding, Transform: percentDecode},
	{Name: StrategyAggressive, Transform: aggressive},
}

// light is the de-escaping subset the suggestion extractor runs directly
// against candidate strings.
var light = []Strategy{
	{Name: StrategyTrim, Transform: strings.TrimSpace},
	{Name: StrategyLineEscapes, Transform: lineEscapes},
	{Name: StrategyQuoteEscapes, Transform: quoteEscapes},
	{Name: StrategyLineAndQuote, Transform: func(s string) string { return quoteEscapes(lineEscapes(s)) }},
	{Name: StrategyAllEscapes, Transform: allEscapes},
}

// lossless are the tiers that only undo a serialization layer and never
// rewrite content.
var lossless = []Strategy{
	{Name: StrategyDirect, Transform: identity},
	{Name: StrategyTrim, Transform: strings.TrimSpace},
	{Name: StrategyUnquoteEmbedded, Transform: unquoteEmbedded},
}

// DecodeStrict decodes text as a JSON object or array, trying only the
// lossless tiers. It reports the tier that succeeded, or the last decode
// error.
func DecodeStrict(text string) (any, string, error) {
	return FirstSuccess(text, lossless, decodeStructured, nil)
}

// Strategies returns a copy of the transform tiers in cascade order.
func Strategies() []Strategy { return append([]Strategy(nil), cascade...) }

// LightStrategies returns a copy of the extractor's de-escaping subset.
func LightStrategies() []Strategy { return append([]Strategy(nil), light...) }

func identity(s string) string { return s }

// unquoteEmbedded decodes a JSON value that was itself serialized as a
// quoted string, e.g. "{\"a\":1}".
func unquoteEmbedded(s string) string {
	t := strings.TrimSpace(s)
	if len(t) < 2 || t[0] != '"' || t[len(t)-1] != '"' {
		return s
	}
	var inner string
	if err := json.Unmarshal([]byte(t), &inner); err == nil {
		return inner
	}
	return quoteEscapes(t[1 : len(t)-1])
}

func lineEscapes(s string) string { return lineEscapeRepl.Replace(s) }

func quoteEscapes(s string) string { return quoteEscapeRepl.Replace(s) }

func allEscapes(s string) string { return allEscapeRepl.Replace(s) }

func stripControl(s string) string { return controlChars.ReplaceAllString(s, "") }

// collapseEscapes peels redundant escaping levels: four backslashes become
// two, an escaped escaped quote becomes an escaped quote, and finally
// escaped quotes become plain quotes.
func collapseEscapes(s string) string {
	s = strings.ReplaceAll(s, `\\\\`, `\\`)
	s = strings.ReplaceAll(s, `\\"`, `\"`)
	return strings.ReplaceAll(s, `\"`, `"`)
}

func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// aggressive is the last lossy transform: line breaks degrade to spaces,
// control characters and \u escapes are dropped, templates are neutralized
// and whitespace runs collapse.
func aggressive(s string) string {
	s = strings.NewReplacer(`\n`, " ", `\r`, " ", `\t`, " ").Replace(s)
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)
	s = wideControlChars.ReplaceAllString(s, "")
	s = unicodeEscapes.ReplaceAllString(s, "")
	s = replaceTemplates(s)
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}

// replaceTemplates neutralizes JavaScript template syntax. Backtick strings
// become JSON strings, and ${...} interpolations become TemplatePlaceholder,
// quoted when they stand where a value is expected and bare when they sit
// inside a string.
func replaceTemplates(s string) string {
	if !strings.ContainsAny(s, "`$") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString && c == '\\' && i+1 < len(s):
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
		case c == '"':
			inString = !inString
			b.WriteByte(c)
		case c == '$' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			if inString {
				b.WriteString(TemplatePlaceholder)
			} else {
				fmt.Fprintf(&b, "%q", TemplatePlaceholder)
			}
			i += end
		case c == '`' && !inString:
			end := strings.IndexByte(s[i+1:], '`')
			if end < 0 {
				b.WriteByte('"')
				continue
			}
			body := s[i+1 : i+1+end]
			body = templateBody(body)
			encoded, _ := json.Marshal(body)
			b.Write(encoded)
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var interpolation = regexp.MustCompile(`\$\{[^}]*\}`)

func templateBody(body string) string {
	return interpolation.ReplaceAllString(body, TemplatePlaceholder)
}
