package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInfo_Short(t *testing.T) {
	assert.Equal(t, "v1.4.0 (0123456)", Info{Version: "v1.4.0", GitCommit: "0123456789abcdef"}.Short())
	assert.Equal(t, "dev", Info{Version: "dev", GitCommit: "unknown"}.Short())
}

func TestInfo_Detailed(t *testing.T) {
	info := Info{
		Version:   "v1.4.0",
		GitCommit: "0123456789abcdef",
		BuildTime: time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC),
		GoVersion: "go1.24.4",
		Platform:  "linux/amd64",
		Dirty:     true,
	}
	assert.Equal(t, "Version: v1.4.0\nCommit: 0123456789abcdef (dirty)\nBuilt: 2024-03-09T14:05:00Z\nGo: go1.24.4\nPlatform: linux/amd64", info.Detailed())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
