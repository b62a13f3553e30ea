package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "material.pem")
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o600))
	return path
}

func TestConfig_Validate_OK(t *testing.T) {
	path := writeTempFile(t)
	cfg := Config{
		ListenAddr:  ":8080",
		CACertPath:  path,
		CAKeyPath:   path,
		EnhanceAddr: "127.0.0.1:5000",
	}
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_MissingCAFiles(t *testing.T) {
	cfg := Config{
		ListenAddr:  ":8080",
		CACertPath:  "/nonexistent/ca.crt",
		CAKeyPath:   "/nonexistent/ca.key",
		EnhanceAddr: "127.0.0.1:5000",
	}
	require.Error(t, cfg.Validate())
}

func TestConfig_Validate_EmptyListenAddr(t *testing.T) {
	path := writeTempFile(t)
	cfg := Config{CACertPath: path, CAKeyPath: path, EnhanceAddr: "127.0.0.1:5000"}
	require.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidMetricsAddr(t *testing.T) {
	path := writeTempFile(t)
	cfg := Config{
		ListenAddr:  ":8080",
		CACertPath:  path,
		CAKeyPath:   path,
		EnhanceAddr: "127.0.0.1:5000",
		MetricsAddr: "not a valid addr!!",
	}
	require.Error(t, cfg.Validate())
}

func TestNormalizeAddr_BarePort(t *testing.T) {
	require.Equal(t, ":8080", NormalizeAddr("8080"))
}

func TestNormalizeAddr_AlreadyHostPort(t *testing.T) {
	require.Equal(t, "127.0.0.1:8080", NormalizeAddr("127.0.0.1:8080"))
}

func TestNormalizeAddr_AlreadyBareColonPort(t *testing.T) {
	require.Equal(t, ":8080", NormalizeAddr(":8080"))
}
