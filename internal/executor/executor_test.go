package executor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/burstmake/internal/task"
)

func TestOutcome(t *testing.T) {
	tk := &task.Task{JobID: "C", Rule: "C"}

	assert.NoError(t, Outcome(tk, ExitStatus{}, nil))

	err := Outcome(tk, ExitStatus{Code: 3, Stderr: "boom\n"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Equal(t, "job C (rule C) exited with code 3: boom", err.Error())

	var aerr *ActionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 3, aerr.Status.Code)

	err = Outcome(tk, ExitStatus{ExternalID: "42"}, fmt.Errorf("qsub: %w", ErrSubmission))
	assert.ErrorIs(t, err, ErrSubmission)
	assert.False(t, errors.Is(err, ErrActionFailed))
	assert.Contains(t, err.Error(), "[external id 42]")
}

func TestTailBuffer(t *testing.T) {
	b := NewTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "cdefg", b.String())

	n, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "56789", b.String())
}
