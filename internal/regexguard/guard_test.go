package regexguard

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/config"
	"go.uber.org/zap/zaptest"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	return New(DefaultOptions(), zaptest.NewLogger(t))
}

func TestValidate(t *testing.T) {
	g := newGuard(t)

	tests := []struct {
		name    string
		pattern string
		valid   bool
		errPart string
	}{
		{"word boundary literal", `\bpassword\b`, true, ""},
		{"digit generalization", `question_\d+`, true, ""},
		{"simple quantified group", `(?:abc)+`, true, ""},
		{"disjoint alternation", `(yes|no)+`, true, ""},
		{"bounded small repeat", `(ab){2,5}`, true, ""},
		{"escaped parens are literal", `\(a+\)+`, true, ""},
		{"nested plus", `(a+)+`, false, "nested unbounded quantifiers"},
		{"nested star", `(a*)*`, false, "nested unbounded quantifiers"},
		{"nested word and space", `(\w+\s*)+`, false, "nested unbounded quantifiers"},
		{"duplicate alternation", `(a|a)+`, false, "overlapping alternation"},
		{"prefix alternation", `(ab|a)*`, false, "overlapping alternation"},
		{"long group run", `(ab){10,}`, false, "10 or more times"},
		{"long fixed group run", `(?:x){12}`, false, "10 or more times"},
		{"syntax error", `(unclosed`, false, "Invalid regex syntax"},
		{"empty", ``, false, "empty"},
		{"too long", strings.Repeat("a", 201), false, "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Validate(tt.pattern)
			assert.Equal(t, tt.valid, v.Valid(), "errors: %v", v.Errors)
			if tt.errPart != "" {
				assert.Contains(t, strings.Join(v.Errors, "|"), tt.errPart)
			}
		})
	}
}

func TestComplexityScore(t *testing.T) {
	g := newGuard(t)

	// two parens (4), one alternation (3), four brackets (4), two quantifiers (10)
	v := g.Validate(`([a-z]+|[0-9]+)`)
	assert.Equal(t, 21, v.ComplexityScore)
	assert.Empty(t, v.Warnings)

	assert.Equal(t, 4, g.Validate(`(a)`).ComplexityScore, "closing parens count")
	assert.Equal(t, 2, g.Validate(`[a]`).ComplexityScore, "closing brackets count")
	assert.Equal(t, 9, g.Validate(`(?:a)`).ComplexityScore, "a group modifier counts as a quantifier character")

	// 13 parenthesized literals: 52 from parens alone.
	v = g.Validate(strings.Repeat("(x)", 13))
	assert.Equal(t, 52, v.ComplexityScore)
	require.Len(t, v.Warnings, 1)

	busy := `(?:a|b)?(?:c|d)?(?:e|f)?(?:g|h)?(?:i|j)?(?:k|l)?`
	v = g.Validate(busy)
	assert.True(t, v.Valid())
	assert.Greater(t, v.ComplexityScore, 50)
	require.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "complex")
}

func TestCompileCachesByPatternAndFlags(t *testing.T) {
	g := newGuard(t)

	m1, err := g.Compile(`\bemail\b`)
	require.NoError(t, err)
	m2, err := g.Compile(`\bemail\b`)
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	m3, err := g.CompileWithFlags(`\bemail\b`, "")
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)
	assert.Equal(t, 2, g.CacheSize())

	ok, err := m1.MatchString("Your EMAIL address")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m3.MatchString("Your EMAIL address")
	require.NoError(t, err)
	assert.False(t, ok, "case-sensitive matcher must not match")
}

func TestCompileRejectsInvalid(t *testing.T) {
	g := newGuard(t)
	_, err := g.Compile(`(a+)+`)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, g.CacheSize())
}

func TestCompileConcurrent(t *testing.T) {
	g := newGuard(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Compile(`age\s*\d+`)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, g.CacheSize())
}

func TestBudget(t *testing.T) {
	t.Run("element cap", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxElements = 3
		g := New(opts, nil)

		b, cancel := g.NewBudget(context.Background(), "regex scan")
		defer cancel()
		for i := 0; i < 3; i++ {
			require.NoError(t, b.Visit(i))
		}
		err := b.Visit(3)
		require.Error(t, err)
		assert.True(t, apperr.IsTimeout(err))
		assert.Contains(t, err.Error(), "3 elements")
	})

	t.Run("revisits are free", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxElements = 2
		g := New(opts, nil)

		b, cancel := g.NewBudget(context.Background(), "regex scan")
		defer cancel()
		for i := 0; i < 50; i++ {
			require.NoError(t, b.Visit(i%2))
		}
		assert.Equal(t, 2, b.Seen())
		assert.True(t, apperr.IsTimeout(b.Visit("third")))
	})

	t.Run("wall clock", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Timeout = 10 * time.Millisecond
		g := New(opts, nil)

		b, cancel := g.NewBudget(context.Background(), "regex scan")
		defer cancel()
		<-b.Context().Done()

		err := b.Visit(0)
		require.Error(t, err)
		assert.True(t, apperr.IsTimeout(err))
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		g := newGuard(t)
		ctx, cancelParent := context.WithCancel(context.Background())
		b, cancel := g.NewBudget(ctx, "regex scan")
		defer cancel()
		cancelParent()

		err := b.Visit(0)
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, apperr.IsTimeout(err))
	})
}

func TestOptionsFromConfigKeepsDefaultsForZeroValues(t *testing.T) {
	opts := OptionsFromConfig(config.RegexConfig{MaxLength: 120})
	assert.Equal(t, 120, opts.MaxLength)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, 1000, opts.MaxElements)
}

func FuzzValidateNeverPanics(f *testing.F) {
	for _, seed := range []string{`(a+)+`, `\bpassword\b`, `((((`, `[a-`, `(?<n>x)|y`, `\`} {
		f.Add([]byte(seed))
	}
	g := New(DefaultOptions(), nil)

	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		pattern, err := c.GetString()
		if err != nil {
			return
		}
		v := g.Validate(pattern)
		if !v.Valid() {
			return
		}
		m, err := g.Compile(pattern)
		if err != nil {
			t.Fatalf("valid pattern %q failed to compile: %v", pattern, err)
		}
		_, _ = m.MatchString("How old are you? 42")
	})
}
