package dom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

const xpathHTML = `
	<html>
	<body>
		<div id="header">
			<h1>Welcome</h1>
		</div>
		<form class="survey">
			<p>Q1</p><p>Q2</p>
			<ul>
				<li><input name="a"></li>
				<li><input name="b"></li>
				<li id="it's"><input name="c"></li>
			</ul>
		</form>
		<form class="survey"><p>Q3</p></form>
	</body>
	</html>
	`

func TestGenerateUniqueXPath(t *testing.T) {
	doc, err := dom.ParseString(xpathHTML)
	require.NoError(t, err)

	tests := []struct {
		name          string
		targetXPath   string
		expectedXPath string
	}{
		{"Body", "//body", "/html[1]/body[1]"},
		{"Element with ID", "//div[@id='header']", `//*[@id='header']`},
		{"Child of ID element", "//h1", `//*[@id='header']/h1[1]`},
		{"Specific index", "(//p)[2]", "/html[1]/body[1]/form[1]/p[2]"},
		{"Repeated class", "(//form[@class='survey'])[2]/p", "/html[1]/body[1]/form[2]/p[1]"},
		{"Nested input", "//input[@name='b']", "/html[1]/body[1]/form[1]/ul[1]/li[2]/input[1]"},
		{"Quote in id", "//input[@name='c']", `//*[@id="it's"]/input[1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := doc.QueryXPathOne(tt.targetXPath)
			require.NoError(t, err)
			require.NotNil(t, target, "test setup: %s matched nothing", tt.targetXPath)

			generated := dom.GenerateUniqueXPath(target)
			assert.Equal(t, tt.expectedXPath, generated)

			again, err := doc.QueryXPathOne(generated)
			require.NoError(t, err)
			assert.Same(t, target, again, "generated xpath did not select the original element")
		})
	}

	assert.Equal(t, "", dom.GenerateUniqueXPath(nil))
}
