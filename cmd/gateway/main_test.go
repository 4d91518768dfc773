package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["export-patterns"])
	require.True(t, names["import-patterns"])
}
