package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	Version, Commit, Date = version, commit, date
	t.Cleanup(func() { Version, Commit, Date = oldVersion, oldCommit, oldDate })
}

func TestGetInfo_StampedBuild(t *testing.T) {
	// Given: a binary stamped at release time
	stamp(t, "v1.2.0", "abc123", "2026-01-01T00:00:00Z")

	// When: describing the build
	info := GetInfo()

	// Then: the stamped values win over toolchain metadata
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "2026-01-01T00:00:00Z", info.Date)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString_StampedBuild(t *testing.T) {
	stamp(t, "v1.2.0", "abc123", "2026-01-01T00:00:00Z")

	assert.Equal(t,
		"anythingd v1.2.0 (abc123, built 2026-01-01T00:00:00Z, "+runtime.Version()+" "+runtime.GOOS+"/"+runtime.GOARCH+")",
		String())
	assert.Equal(t, "v1.2.0", Short())
}

func TestGetInfo_UnstampedBuildHasValues(t *testing.T) {
	stamp(t, "dev", "unknown", "unknown")

	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.Equal(t, info.Version, Short())
}

func TestInfo_JSON(t *testing.T) {
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"version", "commit", "date", "go_version", "platform"} {
		assert.Contains(t, decoded, key)
	}
}
