package tools

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestResultString(t *testing.T) {
	assert.Equal(t, "<result>\nok\n</result>\n", Success("ok").String())
	assert.Equal(t, "<error>\nboom\n</error>\n", Failure(errors.New("boom")).String())
	assert.False(t, Failure(errors.New("boom")).Success)
}
