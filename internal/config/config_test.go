package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxSpec_UnmarshalInt(t *testing.T) {
	var spec TxSpec
	require.NoError(t, json.Unmarshal([]byte("123"), &spec))
	require.True(t, spec.IsValue)
	require.Equal(t, 123, spec.Value)
}

func TestTxSpec_UnmarshalKeyword(t *testing.T) {
	var spec TxSpec
	require.NoError(t, json.Unmarshal([]byte(`"highest"`), &spec))
	require.False(t, spec.IsValue)
	require.Equal(t, "highest", spec.Keyword)
}

func TestTxSpec_UnmarshalUnknownKeywordFails(t *testing.T) {
	var spec TxSpec
	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &spec))
}

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"depot": "MyDepot",
		"streams": ["main"],
		"repo-path": "/tmp/out"
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, MethodDeepHist, cfg.Method)
	require.Equal(t, EmptyChildMerge, cfg.EmptyChildStreamAction)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "refs/ac2git", cfg.RefNamespace)
	require.Equal(t, "accurev", cfg.AccurevBin)
	require.Equal(t, "git", cfg.GitBin)
}

func TestLoad_MissingDepotFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"streams": ["main"], "repo-path": "/tmp/out"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_ValidateRejectsUnknownMethod(t *testing.T) {
	cfg := &Config{Depot: "d", Streams: []string{"s"}, RepoPath: "/tmp", Method: "bogus", EmptyChildStreamAction: EmptyChildMerge}
	require.Error(t, cfg.Validate())
}
