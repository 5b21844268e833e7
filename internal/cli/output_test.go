package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/domain"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(map[string]string{"result": "success"}, nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Success("ignored", func(w io.Writer) { fmt.Fprintln(w, "rendered") })
	require.NoError(t, err)
	assert.Equal(t, "rendered\n", buf.String())
}

func TestOutputFormatter_TextSuccessDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("plain", nil))
	assert.Equal(t, "plain\n", buf.String())
}

func TestOutputFormatter_FailDomainError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := domain.Errorf(domain.CodeNotAuthorized, "lists.deleteList", "only the owner may delete")
	err := formatter.Fail(fmt.Errorf("wrapped: %w", cause))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.Is(err, domain.ErrNotAuthorized))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_AUTHORIZED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "only the owner")
}

func TestOutputFormatter_FailOtherError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Fail(errors.New("disk on fire"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ERROR", resp.Error.Code)
}

func TestOutputFormatter_FailKeepsExitError(t *testing.T) {
	formatter := &OutputFormatter{Format: "text", Writer: io.Discard}

	err := formatter.Fail(NewExitError(ExitFailure, "scenario failed"))
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "scenario failed", err.Error())
}

func TestOutputFormatter_FailTextWritesNothing(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	_ = formatter.Fail(errors.New("boom"))
	assert.Empty(t, buf.String())
}

func TestExitError(t *testing.T) {
	err := NewExitError(ExitFailure, "test error")
	assert.Equal(t, ExitFailure, err.Code)
	assert.Equal(t, "test error", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapExitError(t *testing.T) {
	cause := errors.New("underlying")
	err := WrapExitError(ExitCommandError, "wrapper", cause)
	assert.Equal(t, "wrapper: underlying", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error failure", NewExitError(ExitFailure, "x"), ExitFailure},
		{"exit error command", NewExitError(ExitCommandError, "x"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "x")), ExitCommandError},
		{"plain error", errors.New("x"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}
