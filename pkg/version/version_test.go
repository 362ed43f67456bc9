package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given: the version package is imported

	// When: accessing Version

	// Then: it is "dev" or a semver string injected via ldflags
	require.NotEmpty(t, Version)
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	assert.True(t, semver.MatchString(Version), "got %s", Version)
}

func TestString_ReturnsFormattedString(t *testing.T) {
	str := String()

	assert.Contains(t, str, "agentmem "+Version)
	assert.Contains(t, str, "commit: "+Commit)
	assert.Contains(t, str, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestShort_ReturnsVersion(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo(t *testing.T) {
	// Given: the version package is imported

	// When: serializing GetInfo() to JSON
	info := GetInfo()
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then: every field is present and matches the package values
	var parsed map[string]string
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, map[string]string{
		"version":    Version,
		"commit":     Commit,
		"date":       Date,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}, parsed)
}
