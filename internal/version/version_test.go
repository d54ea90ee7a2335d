package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLinkerValues(t *testing.T) {
	defer func(v, c, d string) { Version, GitCommit, BuildDate = v, c, d }(Version, GitCommit, BuildDate)
	Version, GitCommit, BuildDate = "v1.2.3", "abc123", "2024-05-10"

	info := Get()
	assert.Equal(t, Info{Version: "v1.2.3", GitCommit: "abc123", BuildDate: "2024-05-10"}, info)
	assert.Equal(t, "v1.2.3 (built 2024-05-10, commit abc123)", info.String())
}
