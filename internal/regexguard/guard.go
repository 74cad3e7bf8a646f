// internal/regexguard/guard.go

// Package regexguard validates user-authored regular expressions and bounds the cost of running them.
//
// Patterns are compiled with ECMAScript semantics (the syntax the extension's users write) and matched
// case-insensitively. Compiled matchers are cached by pattern and flags. Every scan over page elements
// runs under a Budget that caps both wall-clock time and the number of elements examined.
package regexguard

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/config"
	"go.uber.org/zap"
)

// Options bounds pattern size and evaluation cost.
type Options struct {
	MaxLength      int
	Timeout        time.Duration
	MatchTimeout   time.Duration
	MaxElements    int
	ComplexityWarn int
}

// DefaultOptions returns the limits used when no configuration is supplied.
func DefaultOptions() Options {
	return Options{
		MaxLength:      200,
		Timeout:        5 * time.Second,
		MatchTimeout:   100 * time.Millisecond,
		MaxElements:    1000,
		ComplexityWarn: 50,
	}
}

// OptionsFromConfig maps the regex configuration section onto Options.
func OptionsFromConfig(cfg config.RegexConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxLength > 0 {
		opts.MaxLength = cfg.MaxLength
	}
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.MatchTimeout > 0 {
		opts.MatchTimeout = cfg.MatchTimeout
	}
	if cfg.MaxElements > 0 {
		opts.MaxElements = cfg.MaxElements
	}
	if cfg.ComplexityWarn > 0 {
		opts.ComplexityWarn = cfg.ComplexityWarn
	}
	return opts
}

// Flags selects matching behaviour. Only "i" (case-insensitive) is recognized.
type Flags string

const FlagIgnoreCase Flags = "i"

// Validation is the outcome of checking a pattern. It is never nil-equivalent: an invalid pattern
// has at least one entry in Errors.
type Validation struct {
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	ComplexityScore int      `json:"complexityScore"`
}

// Valid reports whether the pattern may be compiled.
func (v Validation) Valid() bool { return len(v.Errors) == 0 }

type cacheKey struct {
	pattern string
	flags   Flags
}

// Guard validates, compiles and caches patterns.
type Guard struct {
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[cacheKey]*Matcher
}

// New creates a Guard. A nil logger is replaced with a no-op logger.
func New(opts Options, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		opts:   opts,
		logger: logger.Named("regexguard"),
		cache:  make(map[cacheKey]*Matcher),
	}
}

// Options returns the limits this guard enforces.
func (g *Guard) Options() Options { return g.opts }

// Validate checks pattern against the length limit, the dangerous-shape denylist and the regex
// grammar, and scores its complexity. It never panics.
func (g *Guard) Validate(pattern string) (v Validation) {
	v.Errors = []string{}
	v.Warnings = []string{}
	defer func() {
		if r := recover(); r != nil {
			v.Errors = append(v.Errors, fmt.Sprintf("pattern could not be analysed: %v", r))
		}
	}()

	if strings.TrimSpace(pattern) == "" {
		v.Errors = append(v.Errors, "Pattern is empty")
		return v
	}
	if len(pattern) > g.opts.MaxLength {
		v.Errors = append(v.Errors, fmt.Sprintf("Pattern too long (max %d characters)", g.opts.MaxLength))
		return v
	}

	v.Errors = append(v.Errors, dangerousShapes(pattern)...)

	if _, err := regexp2.Compile(pattern, regexp2.ECMAScript|regexp2.IgnoreCase); err != nil {
		v.Errors = append(v.Errors, "Invalid regex syntax: "+err.Error())
	}

	v.ComplexityScore = complexity(pattern)
	if v.ComplexityScore > g.opts.ComplexityWarn {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Pattern is complex (score %d) and may be slow", v.ComplexityScore))
	}
	return v
}

// Compile validates pattern and returns a cached case-insensitive matcher.
func (g *Guard) Compile(pattern string) (*Matcher, error) {
	return g.CompileWithFlags(pattern, FlagIgnoreCase)
}

// CompileWithFlags validates pattern and returns a matcher cached under (pattern, flags).
func (g *Guard) CompileWithFlags(pattern string, flags Flags) (*Matcher, error) {
	key := cacheKey{pattern: pattern, flags: flags}

	g.mu.RLock()
	m, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return m, nil
	}

	v := g.Validate(pattern)
	if !v.Valid() {
		return nil, apperr.NewValidationError("pattern", strings.Join(v.Errors, "; "))
	}

	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if strings.Contains(string(flags), string(FlagIgnoreCase)) {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, apperr.NewValidationError("pattern", err.Error())
	}
	re.MatchTimeout = g.opts.MatchTimeout

	m = &Matcher{re: re, pattern: pattern, timeout: g.opts.MatchTimeout}

	g.mu.Lock()
	if existing, ok := g.cache[key]; ok {
		m = existing
	} else {
		g.cache[key] = m
	}
	g.mu.Unlock()

	g.logger.Debug("Compiled pattern", zap.String("pattern", pattern), zap.Int("complexity", v.ComplexityScore))
	return m, nil
}

// CacheSize returns the number of compiled matchers held.
func (g *Guard) CacheSize() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}

// Matcher is a compiled, validated pattern.
type Matcher struct {
	re      *regexp2.Regexp
	pattern string
	timeout time.Duration
}

// MatchString reports whether s contains a match. A match that exceeds the per-match timeout
// yields a TimeoutError.
func (m *Matcher) MatchString(s string) (bool, error) {
	ok, err := m.re.MatchString(s)
	if err != nil {
		return false, &apperr.TimeoutError{Op: "regex match", Budget: m.timeout, Err: err}
	}
	return ok, nil
}

// String returns the source pattern.
func (m *Matcher) String() string { return m.pattern }

// -- Structural analysis --

// group is a parenthesized span found while scanning a pattern.
type group struct {
	start, end int // indexes of '(' and ')'
	bodyStart  int // first index of the body, after any (?: prefix
}

// scanGroups returns every group in pattern, ignoring escaped and in-class parentheses.
func scanGroups(pattern string) []group {
	var (
		out   []group
		stack []group
		inCls bool
	)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\':
			i++
		case inCls:
			if c == ']' {
				inCls = false
			}
		case c == '[':
			inCls = true
		case c == '(':
			g := group{start: i, bodyStart: i + 1}
			if i+1 < len(pattern) && pattern[i+1] == '?' {
				// (?: (?= (?! (?<= (?<! (?<name>
				j := i + 2
				if j < len(pattern) && pattern[j] == '<' && j+1 < len(pattern) && pattern[j+1] != '=' && pattern[j+1] != '!' {
					for j < len(pattern) && pattern[j] != '>' {
						j++
					}
					g.bodyStart = j + 1
				} else {
					for j < len(pattern) && strings.IndexByte(":=!<", pattern[j]) >= 0 {
						j++
					}
					g.bodyStart = j
				}
			}
			stack = append(stack, g)
		case c == ')':
			if len(stack) == 0 {
				continue
			}
			g := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			g.end = i
			if g.bodyStart > g.end {
				g.bodyStart = g.end
			}
			out = append(out, g)
		}
	}
	return out
}

// quantifierAt describes the quantifier starting at pattern[i], if any. min is the lower bound of a
// brace quantifier and -1 otherwise.
func quantifierAt(pattern string, i int) (unbounded bool, min int, ok bool) {
	if i >= len(pattern) {
		return false, -1, false
	}
	switch pattern[i] {
	case '+', '*':
		return true, -1, true
	case '?':
		return false, -1, true
	case '{':
		end := strings.IndexByte(pattern[i:], '}')
		if end < 0 {
			return false, -1, false
		}
		body := pattern[i+1 : i+end]
		lo, hi, hasComma := strings.Cut(body, ",")
		n, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return false, -1, false
		}
		return hasComma && strings.TrimSpace(hi) == "", n, true
	}
	return false, -1, false
}

// hasUnboundedQuantifier reports whether s contains an unescaped +, * or {n,} outside a class.
func hasUnboundedQuantifier(s string) bool {
	inCls := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			i++
		case inCls:
			if c == ']' {
				inCls = false
			}
		case c == '[':
			inCls = true
		default:
			if unbounded, _, ok := quantifierAt(s, i); ok && unbounded {
				return true
			}
		}
	}
	return false
}

// topLevelAlternatives splits a group body on '|' at depth zero.
func topLevelAlternatives(body string) []string {
	var (
		parts []string
		depth int
		inCls bool
		last  int
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\':
			i++
		case inCls:
			if c == ']' {
				inCls = false
			}
		case c == '[':
			inCls = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '|' && depth == 0:
			parts = append(parts, body[last:i])
			last = i + 1
		}
	}
	return append(parts, body[last:])
}

// alternativesOverlap reports whether two alternatives can match the same prefix.
func alternativesOverlap(alts []string) bool {
	for i := 0; i < len(alts); i++ {
		for j := i + 1; j < len(alts); j++ {
			a, b := strings.ToLower(alts[i]), strings.ToLower(alts[j])
			if a == b || a == "" || b == "" || strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
				return true
			}
		}
	}
	return false
}

// dangerousShapes flags quantified groups prone to catastrophic backtracking.
func dangerousShapes(pattern string) []string {
	var errs []string
	seen := map[string]bool{}
	add := func(msg string) {
		if !seen[msg] {
			seen[msg] = true
			errs = append(errs, msg)
		}
	}

	for _, g := range scanGroups(pattern) {
		unbounded, min, ok := quantifierAt(pattern, g.end+1)
		if !ok {
			continue
		}
		body := pattern[g.bodyStart:g.end]
		if min >= 10 {
			add("Pattern repeats a group 10 or more times")
		}
		if !unbounded {
			continue
		}
		if hasUnboundedQuantifier(body) {
			add("Pattern contains nested unbounded quantifiers")
		}
		if alts := topLevelAlternatives(body); len(alts) > 1 && alternativesOverlap(alts) {
			add("Pattern contains overlapping alternation under a quantifier")
		}
	}
	return errs
}

// complexity weights quantifier characters x5, alternations x3, parentheses x2 and square
// brackets x1. Every occurrence counts, escaped or not, so the score stays a cheap upper bound.
func complexity(pattern string) int {
	score := 0
	for _, c := range pattern {
		switch c {
		case '+', '*', '?', '{':
			score += 5
		case '|':
			score += 3
		case '(', ')':
			score += 2
		case '[', ']':
			score++
		}
	}
	return score
}
