package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, v, c, d string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = origVersion, origCommit, origDate })
	Version, Commit, Date = v, c, d
}

func TestInfo(t *testing.T) {
	info := Info()
	assert.Contains(t, info, "smsforms dev")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)

	withBuild(t, "1.4.0", "9f8e7d6c5b4a", "2026-10-01")
	info = Info()
	assert.Contains(t, info, "smsforms 1.4.0")
	assert.Contains(t, info, "commit: 9f8e7d6,")
	assert.Contains(t, info, "built: 2026-10-01")
}

func TestUserAgent(t *testing.T) {
	withBuild(t, "1.4.0", "9f8e7d6c5b4a", "")
	assert.Equal(t, "smsforms/1.4.0 (+9f8e7d6)", UserAgent())
}

func TestShort(t *testing.T) {
	for in, want := range map[string]string{
		"abcdefghij": "abcdefg",
		"abc1234":    "abc1234",
		"abc":        "abc",
		"":           "",
	} {
		assert.Equal(t, want, short(in), in)
	}
}
