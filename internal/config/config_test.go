package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAllowlist(t *testing.T) {
	ids := parseAllowlist(" 973853935, 42 ,,junk")
	require.Len(t, ids, 2)
	require.Contains(t, ids, int64(973853935))
	require.Contains(t, ids, int64(42))
}

func TestAllowlisted(t *testing.T) {
	cfg := Config{Allowlist: parseAllowlist("100,200")}
	require.True(t, cfg.Allowlisted(100))
	require.False(t, cfg.Allowlisted(300))
}

func TestDeepLink(t *testing.T) {
	require.Equal(t, "https://t.me/tryonbot", Config{BotUsername: "tryonbot"}.DeepLink())
	require.Equal(t, "https://t.me", Config{}.DeepLink())
}
