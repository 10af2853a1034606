package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/forms"
	"efile/internal/submission/models"
)

// run executes the CLI in-process and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("EFILE_CREDENTIALS_DIR", filepath.Join(dir, "keys"))
	t.Setenv("EFILE_LOGGING_LEVEL", "error")
	t.Setenv("EFILE_DATABASE_DRIVER", "memory")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSampleIsFiledAndAccepted(t *testing.T) {
	dir := setup(t)

	sample, err := run(t, "sample")
	require.NoError(t, err)
	var f returnFile
	require.NoError(t, json.Unmarshal([]byte(sample), &f))
	assert.Equal(t, forms.Form1040, f.Primary.FormType)
	assert.Len(t, f.Attachments, 7)

	path := writeFile(t, dir, "return.json", sample)
	out, err := run(t, "submit", path, "--wait", "5s", "--poll-interval", "10ms")
	require.NoError(t, err, out)

	var results []resultView
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].SubmissionID)
	assert.Equal(t, models.StatusAccepted, results[0].Status)
	assert.Empty(t, results[0].Errors)
}

func TestSubmitReportsAnInvalidReturn(t *testing.T) {
	dir := setup(t)

	sample, err := run(t, "sample")
	require.NoError(t, err)
	var f returnFile
	require.NoError(t, json.Unmarshal([]byte(sample), &f))
	for i, enc := range f.Attachments {
		if enc.FormType != forms.ScheduleSE {
			continue
		}
		in, err := forms.Decode(enc)
		require.NoError(t, err)
		se := in.(forms.ScheduleSEInput)
		se.NetNonFarmProfit = forms.Amt("6000.01")
		f.Attachments[i], err = forms.Encode(se)
		require.NoError(t, err)
	}
	raw, err := json.Marshal(f)
	require.NoError(t, err)

	out, err := run(t, "submit", writeFile(t, dir, "return.json", string(raw)))
	require.ErrorIs(t, err, errNotFiled)

	var results []resultView
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusFailed, results[0].Status)
	assert.NotEmpty(t, results[0].Outcome.ConsistencyErrors)
}

func TestSchemaCommandsReadTheBuiltDocument(t *testing.T) {
	dir := setup(t)

	xml, err := run(t, "sample", "--xml")
	require.NoError(t, err)
	path := writeFile(t, dir, "return.xml", xml)

	out, err := run(t, "schema", "detect", path)
	require.NoError(t, err)
	var det map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &det))
	assert.Equal(t, string(forms.Form1040), det["form_type"])
	assert.Equal(t, forms.CurrentSchemaVersion, det["version"])

	out, err = run(t, "schema", "validate", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"is_valid": true`)
}

func TestKeys(t *testing.T) {
	setup(t)

	_, err := run(t, "keys", "show")
	require.Error(t, err, "nothing to show before generate")

	out, err := run(t, "keys", "generate")
	require.NoError(t, err)
	var first credentialView
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.True(t, first.ValidNow)

	_, err = run(t, "keys", "generate")
	require.Error(t, err, "generate never replaces a credential")

	out, err = run(t, "keys", "rotate")
	require.NoError(t, err)
	var rotated credentialView
	require.NoError(t, json.Unmarshal([]byte(out), &rotated))
	assert.NotEqual(t, first.Serial, rotated.Serial)
	assert.NotEmpty(t, rotated.Archived)

	out, err = run(t, "keys", "show")
	require.NoError(t, err)
	var shown credentialView
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, rotated.Serial, shown.Serial)
}

func TestAmendNeedsAValidSubmissionID(t *testing.T) {
	dir := setup(t)
	changes := writeFile(t, dir, "changes.json", `[{"op":"set","path":"ReturnData/IRS1040/Filer/PrimaryFirstNm","value":"Augusta"}]`)

	_, err := run(t, "amend", "not-an-id", changes)
	require.Error(t, err)
}
