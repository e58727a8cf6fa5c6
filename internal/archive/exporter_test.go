package archive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormitricity/orchestrator/pkg/types"
)

func TestBuildCSV(t *testing.T) {
	readings := []types.Reading{
		{HashedDir: "hashA", TS: 1700000000, KWH: 42.5},
		{HashedDir: "hashB", TS: 1700000600, KWH: 13.25},
	}

	data, err := buildCSV(readings)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "hashed_dir,ts,time_utc,kwh", lines[0])
	assert.Equal(t, "hashA,1700000000,2023-11-14T22:13:20Z,42.5", lines[1])
	assert.Equal(t, "hashB,1700000600,2023-11-14T22:23:20Z,13.25", lines[2])
}

func TestBuildCSV_Empty(t *testing.T) {
	data, err := buildCSV(nil)
	require.NoError(t, err)
	assert.Equal(t, "hashed_dir,ts,time_utc,kwh\n", string(data))
}

func TestNewExporter_RejectsBadEndpoints(t *testing.T) {
	_, err := NewExporter("ftp://archive.local", "ak", "sk", "bucket", nil)
	assert.Error(t, err)

	_, err = NewExporter("https://", "ak", "sk", "bucket", nil)
	assert.Error(t, err)

	_, err = NewExporter("http://archive.local:9000", "ak", "sk", "bucket", nil)
	assert.NoError(t, err)
}
