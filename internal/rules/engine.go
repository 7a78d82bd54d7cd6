// Package rules applies deterministic text substitutions to dictated
// output before it is injected. Two rule forms are supported, one per
// line: literal `spoken => written` replacements and sed-style
// `s/pattern/replacement/flags` expressions.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// substitution is one compiled rule. Literal rules are compiled into
// quoted regular expressions so application is uniform.
type substitution struct {
	re          *regexp.Regexp
	replacement string
	// global applies the rule to every match; otherwise only the first
	// occurrence per pass is replaced.
	global bool
}

// Engine holds an ordered rule list. Rules are applied repeatedly until a
// full pass changes nothing, bounded by the iteration limit so mutually
// recursive rules cannot loop forever.
type Engine struct {
	subs  []substitution
	limit int
}

// Load reads and compiles a rules file. A missing or unconfigured file
// yields an engine that passes text through unchanged.
func Load(path string, iterationLimit int) (*Engine, error) {
	if iterationLimit <= 0 {
		iterationLimit = 30
	}
	e := &Engine{limit: iterationLimit}

	if strings.TrimSpace(path) == "" {
		return e, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return e, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	for index, raw := range strings.Split(string(contents), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sub, err := compileRule(line)
		if err != nil {
			return nil, fmt.Errorf("rules file %q line %d: %w", path, index+1, err)
		}
		e.subs = append(e.subs, sub)
	}
	return e, nil
}

// Apply transforms text deterministically. The same input always produces
// the same output.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.subs) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < e.limit; i++ {
		changed := false
		for _, sub := range e.subs {
			next := sub.apply(result)
			if next != result {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func (s substitution) apply(input string) string {
	if s.global {
		return s.re.ReplaceAllString(input, s.replacement)
	}
	loc := s.re.FindStringIndex(input)
	if loc == nil {
		return input
	}
	match := input[loc[0]:loc[1]]
	return input[:loc[0]] + s.re.ReplaceAllString(match, s.replacement) + input[loc[1]:]
}

func compileRule(line string) (substitution, error) {
	if isRegexRule(line) {
		return compileRegexRule(line)
	}
	if strings.Contains(line, "=>") {
		return compileLiteralRule(line)
	}
	return substitution{}, errors.New("unsupported rule format")
}

// compileLiteralRule handles `spoken => written`. Matching is case
// insensitive and replaces every occurrence.
func compileLiteralRule(line string) (substitution, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return substitution{}, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return substitution{}, fmt.Errorf("invalid literal source: %w", err)
	}
	return substitution{re: re, replacement: to, global: true}, nil
}

func isRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordChar(line[1])
}

func compileRegexRule(line string) (substitution, error) {
	delim := line[1]

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex replacement: %w", err)
	}

	var global, multiLine, dotAll bool
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'g':
			global = true
		case 'i':
			// Case insensitivity is the default for dictated text.
		case 'm':
			multiLine = true
		case 's':
			dotAll = true
		case ' ':
		default:
			return substitution{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	prefix := "i"
	if multiLine {
		prefix += "m"
	}
	if dotAll {
		prefix += "s"
	}
	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex: %w", err)
	}
	return substitution{re: re, replacement: replacement, global: global}, nil
}

// readDelimited scans up to the next unescaped delimiter, returning the
// consumed segment and the position just past the delimiter.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			b.WriteByte(c)
			continue
		}
		if c == delim {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ' ' || c == '\t'
}
