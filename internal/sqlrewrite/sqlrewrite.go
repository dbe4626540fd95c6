// Package sqlrewrite produces lossy, pattern-matching views of SQL text.
//
// Nothing here parses SQL. Sanitize blanks out string literals, quoted
// identifiers, and comments so that keyword patterns cannot fire inside
// them, and ExtractTableNames pulls qualified table names out of the text
// when the engine does not report them. The rewritten text is only ever
// used for detection, never for execution.
package sqlrewrite

import (
	"regexp"
	"strings"
)

var (
	qualifiedTableRe = regexp.MustCompile("`?([\\w-]+)\\.([\\w-]+)\\.([\\w-]+)`?")
	datasetTableRe   = regexp.MustCompile("`?([\\w-]+)\\.([\\w-]+)`?")
)

// ExtractTableNames returns the deduplicated, order-preserving list of
// table names referenced in the SQL text, as "project.dataset.table".
//
// Fully qualified names win: only when none are present and defaultProject
// is set are "dataset.table" references qualified with the default project.
// Comments and string literals are ignored; backticked paths are kept.
func ExtractTableNames(sql, defaultProject string) []string {
	text := StripCommentsAndStrings(sql)

	var tables []string
	for _, m := range qualifiedTableRe.FindAllStringSubmatch(text, -1) {
		tables = append(tables, m[1]+"."+m[2]+"."+m[3])
	}
	if len(tables) > 0 {
		return dedupe(tables)
	}
	if defaultProject == "" {
		return nil
	}
	for _, m := range datasetTableRe.FindAllStringSubmatch(text, -1) {
		tables = append(tables, defaultProject+"."+m[1]+"."+m[2])
	}
	return dedupe(tables)
}

// LeadingKeyword returns the first word of the sanitized, trimmed text in
// upper case, or "" when the text does not start with a word.
func LeadingKeyword(sanitized string) string {
	s := strings.TrimSpace(sanitized)
	end := 0
	for end < len(s) && isWordChar(s[end]) {
		end++
	}
	return strings.ToUpper(s[:end])
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func isWordChar(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
