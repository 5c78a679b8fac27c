package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	Version, GitCommit, BuildDate = "1.2.3", "abc123", "2026-01-01"

	data, err := json.Marshal(Get())
	require.NoError(t, err)

	assert.JSONEq(t, `{"version":"1.2.3","commit":"abc123","build_date":"2026-01-01"}`, string(data))
}
