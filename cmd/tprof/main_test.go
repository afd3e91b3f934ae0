package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"version"})
	var out bytes.Buffer
	root.SetOut(&out)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "tprof dev")
}

func TestAnalyzeCommand_RequiresGatherSource(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"analyze", "--since", "1m"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)

	err := root.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--fixtures or --jaeger-addr")
}
