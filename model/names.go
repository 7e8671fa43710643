package model

import (
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
)

var rules = inflect.NewDefaultRuleset()

// Plural returns the plural form of a camel or pascal cased name. Words
// whose plural equals the singular get a "List" suffix so single and list
// names never collide.
func Plural(s string) string {
	if s == "" {
		return s
	}
	head, last := splitLast(s)
	p := inflectLast(last, rules.Pluralize)
	if p == last {
		return s + "List"
	}
	return head + p
}

// Singular returns the singular form of a camel or pascal cased name.
func Singular(s string) string {
	if s == "" {
		return s
	}
	head, last := splitLast(s)
	return head + inflectLast(last, rules.Singularize)
}

// inflectLast applies fn to the lower-cased word, restoring a leading
// capital afterwards.
func inflectLast(word string, fn func(string) string) string {
	upper := unicode.IsUpper([]rune(word)[0])
	lowered := []rune(word)
	lowered[0] = unicode.ToLower(lowered[0])
	out := fn(string(lowered))
	if out == "" || !upper {
		return out
	}
	r := []rune(out)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Pascal converts a snake, kebab, space or camel cased name to PascalCase.
//
//	car_brand => CarBrand
//	carBrand  => CarBrand
//	URL       => URL
func Pascal(s string) string {
	words := Words(s)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(w[1:])
	}
	return b.String()
}

// Camel converts a name to camelCase, lowering a leading acronym.
//
//	CarBrand => carBrand
//	URLSet   => urlSet
func Camel(s string) string {
	p := Pascal(s)
	if p == "" {
		return p
	}
	r := []rune(p)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	switch {
	case n == len(r):
		return strings.ToLower(p)
	case n > 1:
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

// Snake converts a name to snake_case.
func Snake(s string) string {
	words := Words(s)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "_")
}

// Kebab converts a name to kebab-case.
func Kebab(s string) string {
	return strings.ReplaceAll(Snake(s), "_", "-")
}

// Words splits a name at separators and case boundaries. Acronyms stay
// together: "HTTPCode" splits into "HTTP" and "Code".
func Words(s string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	r := []rune(s)
	for i, c := range r {
		switch {
		case c == '_' || c == '-' || c == ' ' || c == '.':
			flush()
			continue
		case unicode.IsUpper(c) && len(cur) > 0:
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(r) && unicode.IsLower(r[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, c)
	}
	flush()
	return words
}

func splitLast(s string) (string, string) {
	words := Words(s)
	if len(words) == 0 {
		return "", s
	}
	last := words[len(words)-1]
	idx := strings.LastIndex(s, last)
	return s[:idx], s[idx:]
}
