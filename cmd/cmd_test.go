// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/surveyfill/internal/observability"
)

const pageHTML = `<html><body><form>
  <label for="email">Email</label><input id="email" type="email">
  <label for="city">City</label><input id="city" value="Wellington">
</form></body></html>`

// resetForTest isolates package state and points storage and logs at a temp dir.
func resetForTest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgFile = ""
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Setenv("SURVEYFILL_STORAGE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("SURVEYFILL_LOGGER_LOG_FILE", filepath.Join(dir, "test.log"))
	t.Setenv("SURVEYFILL_LOGGER_LEVEL", "error")
	return dir
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "surveyfill version "+Version+"\n", out)
}

func TestUnknownConfigFileFails(t *testing.T) {
	resetForTest(t)
	_, err := executeCommand(t, "--config", "/nonexistent/config.yaml", "detect", "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	dir := resetForTest(t)
	cfg := writeFile(t, dir, "config.yaml", "autofill:\n  max_sessions: 0\n")
	_, err := executeCommand(t, "--config", cfg, "detect", "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_sessions")
}

func TestDetectCommand(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, "detect", "https://acme.qualtrics.com/jfe/form/SV_123?SID=abc987", "--title", "Feedback")
	require.NoError(t, err)

	var report detectReport
	require.NoError(t, json.UnmarshalFromString(out, &report))
	require.NotNil(t, report.Survey)
	assert.Equal(t, "Qualtrics", report.Survey.Platform)
	assert.Equal(t, "abc987", report.Survey.ID)
	assert.Equal(t, "Feedback", report.Survey.Title)
	assert.False(t, report.AutoFill.ShouldFill, "no domain rule is stored")

	out, err = executeCommand(t, "detect", "https://example.com/login")
	require.NoError(t, err)
	require.NoError(t, json.UnmarshalFromString(out, &report))
	assert.Nil(t, report.Survey)
	assert.True(t, report.LoginPage)

	_, err = executeCommand(t, "detect")
	assert.Error(t, err, "a URL is required")
}

func TestDetectConfiguredFlag(t *testing.T) {
	resetForTest(t)
	url := "https://research.acme.org/study/Abc12345"

	out, err := executeCommand(t, "detect", url)
	require.NoError(t, err)
	var report detectReport
	require.NoError(t, json.UnmarshalFromString(out, &report))
	assert.Nil(t, report.Survey)

	out, err = executeCommand(t, "detect", url, "--configured")
	require.NoError(t, err)
	report = detectReport{}
	require.NoError(t, json.UnmarshalFromString(out, &report))
	require.NotNil(t, report.Survey)
	assert.Equal(t, "Abc12345", report.Survey.ID)
}

func TestRegexValidateCommand(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, "regex", "validate", `^e-?mail`)
	require.NoError(t, err)
	assert.Contains(t, out, `"errors": []`)

	out, err = executeCommand(t, "regex", "validate", `(a+)+$`)
	require.Error(t, err)
	assert.Contains(t, out, "nested unbounded quantifiers")
}

func TestRegexTestCommand(t *testing.T) {
	dir := resetForTest(t)
	page := writeFile(t, dir, "page.html", pageHTML)

	out, err := executeCommand(t, "regex", "test", "city", "--html", page)
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "City"`)

	_, err = executeCommand(t, "regex", "test", "city", "--html", page, "--kind", "css")
	assert.Error(t, err, "only regex kinds can be tested")
}

func TestCandidatesCommand(t *testing.T) {
	dir := resetForTest(t)
	page := writeFile(t, dir, "page.html", pageHTML)

	out, err := executeCommand(t, "candidates", "--html", page, "--xpath", `//*[@id="city"]`)
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "City"`)
	assert.Contains(t, out, `"exact-id"`)

	out, err = executeCommand(t, "candidates", "--html", page)
	require.NoError(t, err)
	assert.Contains(t, out, "Wellington", "filled fields are listed")
	assert.NotContains(t, out, `"Email"`, "empty fields are not")

	_, err = executeCommand(t, "candidates", "--html", page, "--xpath", `//*[@id="missing"]`)
	assert.Error(t, err)

	_, err = executeCommand(t, "candidates")
	assert.Error(t, err, "--html is required")
}

func TestFormatLogLine(t *testing.T) {
	line := `{"level":"warn","ts":"2024-06-01T08:00:00.000Z","logger":"surveyfill.lifecycle","msg":"Notification failed, keeping it pending","tab_id":7}`

	got, ok := formatLogLine(line, zapcore.DebugLevel)
	require.True(t, ok)
	assert.Equal(t, `2024-06-01T08:00:00.000Z WARN  surveyfill.lifecycle: Notification failed, keeping it pending {"tab_id":7}`, got)

	_, ok = formatLogLine(line, zapcore.ErrorLevel)
	assert.False(t, ok)

	got, ok = formatLogLine("plain text", zapcore.ErrorLevel)
	assert.True(t, ok)
	assert.Equal(t, "plain text", got)
}

func TestLogsCommand(t *testing.T) {
	dir := resetForTest(t)
	logFile := writeFile(t, dir, "surveyfill.log", strings.Join([]string{
		`{"level":"info","ts":"2024-06-01T08:00:00.000Z","logger":"surveyfill.bridge","msg":"Bridge listening"}`,
		`{"level":"error","ts":"2024-06-01T08:00:01.000Z","logger":"surveyfill.bridge","msg":"Command failed"}`,
	}, "\n")+"\n")
	t.Setenv("SURVEYFILL_LOGGER_LOG_FILE", logFile)

	out, err := executeCommand(t, "logs", "--level", "warn")
	require.NoError(t, err)
	assert.NotContains(t, out, "Bridge listening")
	assert.Contains(t, out, "ERROR surveyfill.bridge: Command failed")
}

func TestGetConfigWithoutRoot(t *testing.T) {
	_, err := getConfig(context.Background())
	assert.Error(t, err)
}
