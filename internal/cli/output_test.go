package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/srcrecover/internal/archive"
	"github.com/roach88/srcrecover/internal/config"
	"github.com/roach88/srcrecover/internal/toolchain"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(map[string]int{"units": 3}, func(w io.Writer) error {
		t.Fatal("text renderer must not run in json mode")
		return nil
	})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeNoUnits, "no bytecode units", map[string]string{"archive": "a.apk"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E005", resp.Error.Code)
	assert.Equal(t, "no bytecode units", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	t.Run("renderer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		err := formatter.Success(42, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, "rendered")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "rendered\n", buf.String())
	})

	t.Run("fallback", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, formatter.Success("done", nil))
		assert.Equal(t, "done\n", buf.String())
	})
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("E001", "something broke", "more"))
	assert.Contains(t, buf.String(), "Error [E001]: something broke")
	assert.Contains(t, buf.String(), "Details: more")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("extracting %s", "classes.dex")

			assert.Empty(t, out.String(), "diagnostics never reach stdout")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "extracting classes.dex")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"config", fmt.Errorf("%w: workers", config.ErrInvalidConfig), ErrCodeConfig, ExitCommandError},
		{"not found", fmt.Errorf("%w: a.apk", archive.ErrNotFound), ErrCodeNotFound, ExitCommandError},
		{"corrupt", fmt.Errorf("%w: a.apk", archive.ErrCorruptArchive), ErrCodeCorrupt, ExitCommandError},
		{"no units", fmt.Errorf("%w: a.apk", archive.ErrNoUnits), ErrCodeNoUnits, ExitCommandError},
		{"tool", &toolchain.UnavailableError{Capability: "cfr", Reason: "no source"}, ErrCodeUnavailable, ExitFailure},
		{"cancelled", context.Canceled, ErrCodeInterrupted, ExitFailure},
		{"other", os.ErrPermission, ErrCodeGeneric, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, exit := classify(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantExit, exit)
		})
	}
}

func TestFail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail("recovery aborted", fmt.Errorf("%w: missing.apk", archive.ErrNotFound))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, errors.Is(err, archive.ErrNotFound))
	assert.Contains(t, buf.String(), "Error [E003]: recovery aborted")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", os.ErrNotExist))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "outer: inner: file does not exist", wrapped.Error())
}
