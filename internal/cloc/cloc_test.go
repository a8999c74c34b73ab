package cloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `{
	"header": {
		"cloc_url": "github.com/AlDanial/cloc",
		"cloc_version": "1.98",
		"elapsed_seconds": 0.05,
		"n_files": 12,
		"n_lines": 1500
	},
	"Go": {"nFiles": 8, "blank": 120, "comment": 80, "code": 1000},
	"Markdown": {"nFiles": 2, "blank": 30, "comment": 0, "code": 200},
	"YAML": {"nFiles": 2, "blank": 5, "comment": 3, "code": 50},
	"SUM": {"blank": 155, "comment": 83, "code": 1250, "nFiles": 12}
}`

func TestParseOutput(t *testing.T) {
	stats, err := parseOutput([]byte(sampleOutput))
	require.NoError(t, err)

	assert.Equal(t, 1250, stats.Total)
	assert.Equal(t, map[string]int{
		"Go":       1000,
		"Markdown": 200,
		"YAML":     50,
	}, stats.Languages)
}

func TestParseOutputEmpty(t *testing.T) {
	stats, err := parseOutput([]byte("  \n"))
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.Languages)
}

func TestParseOutputMalformed(t *testing.T) {
	_, err := parseOutput([]byte("cloc: command exploded"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloc output")
}
