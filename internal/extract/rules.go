package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Field names a product attribute produced by extraction.
type Field string

// Extracted fields.
const (
	FieldName          Field = "name"
	FieldPrice         Field = "price"
	FieldOriginalPrice Field = "original_price"
	FieldAvailability  Field = "availability"
	FieldImage         Field = "image_url"
	FieldSeller        Field = "seller"
	FieldCurrency      Field = "currency"
)

// Rule is one extraction strategy: a CSS selector, an optional attribute to
// read instead of the element text, and an optional pattern whose first
// capture group (or whole match) becomes the value.
type Rule struct {
	Selector string
	Attr     string
	Pattern  *regexp.Regexp
}

// ParseRule builds a Rule from "selector" or "selector@attr".
func ParseRule(expr string) (Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}
	selector, attr := expr, ""
	if at := strings.LastIndex(expr, "@"); at > strings.LastIndex(expr, "]") {
		selector, attr = strings.TrimSpace(expr[:at]), strings.TrimSpace(expr[at+1:])
	}
	if selector == "" {
		return Rule{}, fmt.Errorf("rule %q has no selector", expr)
	}
	return Rule{Selector: selector, Attr: attr}, nil
}

// Rules parses each expr with ParseRule and panics on malformed input. It is
// meant for rule tables declared at package level.
func Rules(exprs ...string) []Rule {
	out := make([]Rule, 0, len(exprs))
	for _, expr := range exprs {
		r, err := ParseRule(expr)
		if err != nil {
			panic(err)
		}
		out = append(out, r)
	}
	return out
}

// WithPattern returns a copy of the rule that keeps only the pattern match.
func (r Rule) WithPattern(pattern string) Rule {
	r.Pattern = regexp.MustCompile(pattern)
	return r
}

// Eval returns the first non-empty value the rule yields under root.
func (r Rule) Eval(root *goquery.Selection) string {
	var out string
	root.Find(r.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = r.value(s)
		return out == ""
	})
	return out
}

func (r Rule) value(s *goquery.Selection) string {
	var raw string
	if r.Attr != "" {
		v, ok := s.Attr(r.Attr)
		if !ok {
			return ""
		}
		raw = v
	} else {
		raw = s.Text()
	}
	raw = collapseSpace(raw)
	if raw == "" || r.Pattern == nil {
		return raw
	}
	m := r.Pattern.FindStringSubmatch(raw)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	default:
		return strings.TrimSpace(m[0])
	}
}

// RuleSet maps fields to their ordered fallback rules.
type RuleSet map[Field][]Rule

// Fields holds the raw text found for each field.
type Fields map[Field]string

// Apply evaluates every field's rules against the document.
func (rs RuleSet) Apply(doc *goquery.Document) Fields {
	out := make(Fields, len(rs))
	for field, rules := range rs {
		if v, ok := FirstMatch(doc.Selection, rules); ok {
			out[field] = v
		}
	}
	return out
}

// FirstMatch tries the rules in order and returns the first non-empty value.
func FirstMatch(root *goquery.Selection, rules []Rule) (string, bool) {
	for _, r := range rules {
		if v := r.Eval(root); v != "" {
			return v, true
		}
	}
	return "", false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
