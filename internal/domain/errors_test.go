package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := Errorf(CodeNotAuthorized, "lists.update", "user %q is not the owner", "u2")

	assert.True(t, errors.Is(err, ErrNotAuthorized))
	assert.False(t, errors.Is(err, ErrInvalidTransition))
}

func TestError_IsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", Errorf(CodeUnknownCandidate, "session.eliminate", "candidate %q", "c9"))

	assert.True(t, errors.Is(err, ErrUnknownCandidate))
	assert.Equal(t, CodeUnknownCandidate, CodeOf(err))
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code only",
			err:  &Error{Code: CodeNotFound},
			want: "NOT_FOUND",
		},
		{
			name: "with op and message",
			err:  Errorf(CodeInvalidTransition, "session.start", "status is %s", StatusActive),
			want: "session.start: INVALID_TRANSITION: status is active",
		},
		{
			name: "with cause",
			err:  &Error{Code: CodeConcurrentModification, Op: "session.eliminate", Message: "retries exhausted", Err: errors.New("version conflict")},
			want: "session.eliminate: CONCURRENT_MODIFICATION: retries exhausted: version conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCodeOf_NonDomainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("boom")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("store unavailable")
	err := Wrap(CodeConcurrentModification, "lists.addItem", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsConcurrentModification(err))
	assert.Equal(t, "lists.addItem: CONCURRENT_MODIFICATION: store unavailable", err.Error())
}
