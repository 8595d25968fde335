package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitRelPathTopLevel(t *testing.T) {
	folder, filename := splitRelPath("report.txt")
	assert.Empty(t, folder)
	assert.Equal(t, "report.txt", filename)
}

func TestSplitRelPathNested(t *testing.T) {
	folder, filename := splitRelPath("projects/q3/report.txt")
	assert.Equal(t, "projects/q3", folder)
	assert.Equal(t, "report.txt", filename)
}
