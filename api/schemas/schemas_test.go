package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFactoriesRoundTripCommand(t *testing.T) {
	for cmd := range requestFactories {
		req, ok := NewRequest(cmd)
		require.True(t, ok, "factory missing for %s", cmd)
		assert.Equal(t, cmd, req.Command(), "variant for %s reports a different command", cmd)
	}

	_, ok := NewRequest("noSuchCommand")
	assert.False(t, ok)
}

func TestLocatorKind(t *testing.T) {
	assert.True(t, LocatorRegexContent.IsRegex())
	assert.False(t, LocatorCSS.IsRegex())
	assert.True(t, LocatorDataAttr.Valid())
	assert.False(t, LocatorKind("partial-id").Valid())
}

func TestOrderedLocators(t *testing.T) {
	f := FieldRecord{
		Locators: []LocatorCandidate{
			{Kind: LocatorExactID, Pattern: "q1"},
			{Kind: LocatorExactName, Pattern: "question_1"},
			{Kind: LocatorRegexLabel, Pattern: `\bage\b`},
		},
		RecommendedLocatorIndex: 2,
	}

	got := f.OrderedLocators()
	require.Len(t, got, 3)
	assert.Equal(t, LocatorRegexLabel, got[0].Kind)
	assert.Equal(t, LocatorExactID, got[1].Kind)
	assert.Equal(t, LocatorExactName, got[2].Kind)

	f.RecommendedLocatorIndex = 9
	assert.Equal(t, LocatorExactID, f.OrderedLocators()[0].Kind)
	assert.Nil(t, FieldRecord{}.OrderedLocators())
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.True(t, o.NotifyOnAutoFill)
	assert.False(t, o.IframeSupportEnabled)
	assert.Equal(t, "#ea4335", o.SelectorColor)
	assert.Equal(t, "kind:pat", LearnedPatternKey("kind", "pat"))
}
