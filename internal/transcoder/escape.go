package transcoder

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text reaches drawtext through three parsers, each with its own escaping:
//
//  1. drawtext text expansion: '\' and '%' are special.
//  2. filter option values: a value is single-quoted, a literal quote is '\''.
//  3. the filtergraph itself: '\', '\'', '[', ']', ',' and ';' are backslash escaped.
//
// escapeDrawtextText handles level 1, quoteOptionValue level 2 and
// escapeGraphArgs level 3 over the whole option string of a filter.

var drawtextTextEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`)

// escapeDrawtextText validates and escapes caption text for drawtext expansion.
// Text that cannot be carried safely fails with ErrFilterSyntax.
func escapeDrawtextText(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", filterSyntaxErrorf("caption text is not valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", filterSyntaxErrorf("caption text contains control character %U", r)
		}
	}
	return drawtextTextEscaper.Replace(s), nil
}

// quoteOptionValue wraps a value in single quotes for the option parser
func quoteOptionValue(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var graphEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`[`, `\[`,
	`]`, `\]`,
	`,`, `\,`,
	`;`, `\;`,
)

// escapeGraphArgs escapes a filter's option string for embedding in a filtergraph
func escapeGraphArgs(s string) string {
	return graphEscaper.Replace(s)
}

// filterOption is one key=value pair of a filter
type filterOption struct {
	key   string
	value string
	raw   bool // value is emitted without quoting
}

// buildFilter renders name=k1=v1:k2=v2 with graph-level escaping applied
func buildFilter(name string, opts []filterOption) string {
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		v := o.value
		if !o.raw {
			v = quoteOptionValue(v)
		}
		parts = append(parts, o.key+"="+v)
	}
	return name + "=" + escapeGraphArgs(strings.Join(parts, ":"))
}
