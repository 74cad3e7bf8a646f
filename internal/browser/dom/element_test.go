package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formHTML = `<html><body>
<form id="survey">
  <label for="email">Email address</label>
  <input id="email" type="email" name="email" value="a@b.co" placeholder="you@example.com" data-qid="7">
  <input id="pw" type="password" name="pw">
  <input id="hidden" type="hidden" name="token" value="x">
  <input id="rf" class="input roboform-field" name="rf">
  <input id="lp" data-lastpass="1" name="lp">
  <input id="agree" type="checkbox" name="agree" checked>
  <input id="r1" type="radio" name="color" value="red" checked>
  <input id="r2" type="radio" name="color" value="blue">
  <select id="country" name="country">
    <option value="">Choose</option>
    <option value="nz">New Zealand</option>
    <optgroup label="old" disabled><option value="yu">Yugoslavia</option></optgroup>
  </select>
  <textarea id="notes">hello</textarea>
  <div id="editor" contenteditable="true"><span id="inner">text</span></div>
  <div style="display: none"><input id="ghost" name="ghost"></div>
  <input id="ro" readonly>
  <button id="go">Next</button>
</form>
</body></html>`

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := ParseString(s)
	require.NoError(t, err)
	return doc
}

func TestElementAccessors(t *testing.T) {
	doc := mustParse(t, formHTML)
	email := doc.ByID("email")
	require.NotNil(t, email)

	assert.Equal(t, "input", email.Tag())
	assert.Equal(t, "email", email.Type())
	assert.Equal(t, "input:email", email.ElementType())
	assert.Equal(t, "a@b.co", email.Value())
	assert.Equal(t, "7", email.Attr("data-qid"))
	assert.True(t, email.IsFormControl())
	assert.Same(t, doc.ByID("survey"), email.Parent())
	assert.Same(t, email, doc.Wrap(email.Node()), "element identity must be stable")

	assert.Equal(t, "text", doc.ByID("rf").Type(), "inputs default to text")
	assert.Equal(t, []string{"input", "roboform-field"}, doc.ByID("rf").Classes())
	assert.Equal(t, "true", doc.ByID("agree").Value())
	assert.Equal(t, "", doc.ByID("country").Value(), "first option is the implicit selection")
	assert.Equal(t, "hello", doc.ByID("notes").Value())
	assert.Equal(t, "text", doc.ByID("editor").Value())
	assert.True(t, doc.ByID("inner").IsContentEditable(), "contenteditable is inherited")
}

func TestOptions(t *testing.T) {
	doc := mustParse(t, formHTML)
	opts := doc.ByID("country").Options()
	require.Len(t, opts, 3)
	assert.Equal(t, "New Zealand", opts[1].Text)
	assert.True(t, opts[2].Disabled, "disabled optgroup disables its options")

	sel := doc.ByID("country")
	assert.True(t, sel.SelectOption("nz"))
	assert.Equal(t, "nz", sel.Value())
	assert.False(t, sel.SelectOption("au"))
}

func TestSetCheckedUnchecksRadioGroup(t *testing.T) {
	doc := mustParse(t, formHTML)
	doc.ByID("r2").SetChecked(true)

	assert.Equal(t, "false", doc.ByID("r1").Value())
	assert.Equal(t, "true", doc.ByID("r2").Value())

	doc.ByID("agree").SetChecked(false)
	assert.Equal(t, "false", doc.ByID("agree").Value())
}

func TestOwnershipAndTargeting(t *testing.T) {
	doc := mustParse(t, formHTML)

	tests := []struct {
		id         string
		foreign    bool
		targetable bool
	}{
		{"email", false, true},
		{"pw", false, false},
		{"hidden", false, false},
		{"rf", true, false},
		{"lp", true, false},
		{"country", false, true},
		{"notes", false, true},
		{"editor", false, true},
		{"go", false, false},
		{"survey", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			el := doc.ByID(tt.id)
			require.NotNil(t, el)
			assert.Equal(t, tt.foreign, el.OwnedByOtherExtension())
			assert.Equal(t, tt.targetable, el.IsTargetable())
		})
	}

	email := doc.ByID("email")
	assert.False(t, email.OwnedByUs())
	email.SetAttr(OwnerAttribute, "true")
	assert.True(t, email.OwnedByUs())
}

func TestIsVisible(t *testing.T) {
	doc := mustParse(t, formHTML)
	assert.True(t, doc.ByID("email").IsVisible())
	assert.False(t, doc.ByID("hidden").IsVisible())
	assert.False(t, doc.ByID("ghost").IsVisible(), "hidden ancestor hides the element")
	assert.False(t, doc.ByID("ro").IsVisible(), "read-only controls are not fillable")
}

func TestQueries(t *testing.T) {
	doc := mustParse(t, formHTML)

	els, err := doc.QueryCSS(`input[type="radio"]`)
	require.NoError(t, err)
	assert.Len(t, els, 2)
	assert.Equal(t, 1, doc.CountCSS(`#email`))
	assert.Equal(t, -1, doc.CountCSS(`input[`), "invalid selectors are reported, not panicked on")

	_, err = doc.QueryCSS(`:::`)
	assert.Error(t, err)

	el, err := doc.QueryXPathOne(`//textarea`)
	require.NoError(t, err)
	assert.Same(t, doc.ByID("notes"), el)

	_, err = doc.QueryXPath(`//*[`)
	assert.Error(t, err)
}

func TestMutationsRender(t *testing.T) {
	doc := mustParse(t, formHTML)
	doc.ByID("notes").SetText("updated")
	doc.ByID("email").RemoveAttr("placeholder")

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "<textarea id=\"notes\">updated</textarea>")
	assert.NotContains(t, out, "you@example.com")
}
