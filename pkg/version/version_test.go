package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Contains(t, info.GoVersion, "go")
}

func TestInfo_Formats(t *testing.T) {
	info := Info{Version: "1.2.3", GitCommit: "abc", GoVersion: "go1.25"}
	assert.Equal(t, "keel 1.2.3 (commit abc, go1.25)", info.String())

	out, err := info.JSON()
	require.NoError(t, err)
	var decoded Info
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, info, decoded)
}
