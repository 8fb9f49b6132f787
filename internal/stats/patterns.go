package stats

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultPatterns are the line patterns counted per language. Each pattern
// counts at most once per line.
var DefaultPatterns = map[string]map[string]string{
	"python": {
		"def":       `^\s*def\s+\w+`,
		"async_def": `^\s*async\s+def\s+\w+`,
		"class":     `^\s*class\s+\w+`,
		"import":    `^\s*(?:import|from)\s+[\w.]+`,
	},
	"go": {
		"func":      `^func\s`,
		"struct":    `^type\s+\w+\s+struct\b`,
		"interface": `^type\s+\w+\s+interface\b`,
	},
	"javascript": {
		"function": `\bfunction\b`,
		"class":    `^\s*(?:export\s+)?(?:default\s+)?class\s+\w+`,
	},
	"typescript": {
		"function":  `\bfunction\b`,
		"class":     `^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+\w+`,
		"interface": `^\s*(?:export\s+)?interface\s+\w+`,
	},
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// compilePatterns merges custom patterns over the defaults and compiles them.
// A custom pattern with the same language and name replaces the default.
func compilePatterns(custom map[string]map[string]string) (map[string][]namedPattern, error) {
	merged := make(map[string]map[string]string, len(DefaultPatterns))
	for lang, patterns := range DefaultPatterns {
		merged[lang] = make(map[string]string, len(patterns))
		for name, expr := range patterns {
			merged[lang][name] = expr
		}
	}
	for lang, patterns := range custom {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if merged[lang] == nil {
			merged[lang] = make(map[string]string, len(patterns))
		}
		for name, expr := range patterns {
			merged[lang][name] = expr
		}
	}

	compiled := make(map[string][]namedPattern, len(merged))
	for lang, patterns := range merged {
		names := make([]string, 0, len(patterns))
		for name := range patterns {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			re, err := regexp.Compile(patterns[name])
			if err != nil {
				return nil, fmt.Errorf("compile pattern %s/%s: %w", lang, name, err)
			}
			compiled[lang] = append(compiled[lang], namedPattern{name: name, re: re})
		}
	}
	return compiled, nil
}

// todoPattern builds the marker regex. The marker must stand alone as a word
// and is matched case-sensitively. Every marker on a line matches; its text
// runs up to the next marker.
func todoPattern(markers []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(m))
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	expr := `\b(` + strings.Join(quoted, "|") + `)\b[:)\]]?\s*`
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile todo markers: %w", err)
	}
	return re, nil
}
