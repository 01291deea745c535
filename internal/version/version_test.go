package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	v := Get()
	assert.NotEmpty(t, v)
	assert.NotContains(t, v, "\n")
}

func TestWithRevision(t *testing.T) {
	assert.Equal(t, "1.0.0", withRevision("1.0.0", nil))

	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "false"},
	}
	assert.Equal(t, "1.0.0 (0123456789ab)", withRevision("1.0.0", settings))

	settings[1].Value = "true"
	assert.Equal(t, "1.0.0 (0123456789ab-dirty)", withRevision("1.0.0", settings))
}
