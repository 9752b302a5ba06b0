package configuration_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorkv/mirrorkv/pkg/configuration"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirrorkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
primary:
  connection:
    impl: default
secondary:
  connection:
    impl: default
  prefix: secondary
`)
	cfg, err := configuration.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "default", cfg.MismatchDetector.Impl)
	require.Equal(t, "default", cfg.WriteErrorConsumer.Impl)
	require.Equal(t, int64(1000), cfg.FlowController.MaxOutstandingRequests)
	require.Equal(t, 4, cfg.SecondaryWorkers)
	require.Equal(t, 0.1, cfg.ReadSamplingRate)
}

func TestLoadFromFileRejectsSameImplementationWithoutPrefixes(t *testing.T) {
	// setDefaults fills an empty connection impl with "default", so the
	// missing-impl branch of validate is unreachable from a YAML
	// document; this exercises the ambiguous-prefix branch instead.
	path := writeConfig(t, `
primary:
  connection:
    impl: default
secondary:
  connection:
    impl: default
`)
	_, err := configuration.LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestLoadFromFileRejectsIdenticalPrefixes(t *testing.T) {
	path := writeConfig(t, `
primary:
  connection:
    impl: default
  prefix: shared/
secondary:
  connection:
    impl: default
  prefix: shared/
`)
	_, err := configuration.LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must differ")
}

func TestLoadFromFileRejectsPrefixEndingInSeparator(t *testing.T) {
	path := writeConfig(t, `
primary:
  connection:
    impl: default
  prefix: a/
secondary:
  connection:
    impl: default
  prefix: b/
`)
	_, err := configuration.LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromFileAllowsDistinctImplementationsWithoutPrefixes(t *testing.T) {
	path := writeConfig(t, `
primary:
  connection:
    impl: default
secondary:
  connection:
    impl: alternate
`)
	cfg, err := configuration.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "default", cfg.Primary.Connection.Impl)
	require.Equal(t, "alternate", cfg.Secondary.Connection.Impl)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := configuration.LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
