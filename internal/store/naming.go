package store

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// nameParts is a base name split as <stem>[_<suffix>][<ext>]
type nameParts struct {
	stem      string
	suffix    int
	hasSuffix bool
	ext       string
}

func (n nameParts) withSuffix(suffix int) string {
	return fmt.Sprintf("%s_%d%s", n.stem, suffix, n.ext)
}

// same reports whether two names differ only by their numeric suffix
func (n nameParts) same(o nameParts) bool {
	return n.stem == o.stem && n.ext == o.ext
}

func parseName(base string) nameParts {
	ext := path.Ext(base)

	// hidden names like ".env" and a bare trailing dot carry no extension
	if ext == base || ext == "." {
		stem, suffix, ok := splitSuffix(base)
		return nameParts{stem: stem, suffix: suffix, hasSuffix: ok}
	}

	stem, suffix, ok := splitSuffix(strings.TrimSuffix(base, ext))
	return nameParts{stem: stem, suffix: suffix, hasSuffix: ok, ext: ext}
}

// splitSuffix splits a trailing "_<digits>" from s. The stem must stay non-empty.
func splitSuffix(s string) (string, int, bool) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return s, 0, false
	}

	digits := s[i+1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return s, 0, false
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

// nextName picks the name following the highest suffix among siblings that
// share base's stem and extension. A sibling without a suffix counts as 0.
func nextName(base string, siblings []string) string {
	want := parseName(base)
	highest := 0
	if want.hasSuffix {
		highest = want.suffix
	}

	for _, sibling := range siblings {
		got := parseName(sibling)
		if !got.same(want) {
			continue
		}
		if got.suffix > highest {
			highest = got.suffix
		}
	}
	return want.withSuffix(highest + 1)
}
