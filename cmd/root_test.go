package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 124, ExitCode(fmt.Errorf("login: %w", errTimedOut)))
	assert.Equal(t, 2, ExitCode(errDeletionNotConfirmed))
	assert.Equal(t, 1, ExitCode(errors.New("other")))
}
