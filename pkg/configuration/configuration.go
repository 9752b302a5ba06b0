// Package configuration loads the mirroring.* configuration tree
// (§6, §12). The teacher loads configuration by evaluating Jsonnet
// into a Protobuf message (pkg/util/jsonnet.go); without a protoc
// toolchain available in this exercise, the same typed-tree-plus-
// defaulting-pass shape is loaded from a plain YAML file instead,
// via gopkg.in/yaml.v3 (see DESIGN.md for the full rationale).
package configuration

import (
	"io"
	"os"
	"strings"

	"github.com/mirrorkv/mirrorkv/pkg/mirrorutil"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

// Config is the root of the mirroring.* configuration tree.
type Config struct {
	Primary            Backend            `yaml:"primary"`
	Secondary          Backend            `yaml:"secondary"`
	MismatchDetector   Impl               `yaml:"mismatch-detector"`
	FlowController     FlowController     `yaml:"flow-controller"`
	WriteErrorConsumer Impl               `yaml:"write-error-consumer"`
	BufferedMutator    BufferedMutator    `yaml:"buffered-mutator"`
	Diagnostics        Diagnostics        `yaml:"diagnostics"`
	AllowConcurrentBatch bool             `yaml:"allow-concurrent-batch"`
	SecondaryWorkers   int                `yaml:"secondary-workers"`
	ReadSamplingRate   float64            `yaml:"read-sampling-rate"`
}

// Backend is one side (primary or secondary) of mirroring.*.connection
// plus its table-name prefix.
type Backend struct {
	Connection Impl   `yaml:"connection"`
	Prefix     string `yaml:"prefix"`
}

// Impl names a pluggable implementation; "default" means "use the
// ecosystem default" (§6).
type Impl struct {
	Impl string `yaml:"impl"`
}

// FlowController configures the default semaphore-backed
// FlowController (mirroring.flow-controller.*).
type FlowController struct {
	Impl                   string `yaml:"impl"`
	MaxOutstandingRequests int64  `yaml:"max-outstanding-requests"`
}

// BufferedMutator configures the write-buffering threshold
// (mirroring.buffered-mutator.bytes-to-flush).
type BufferedMutator struct {
	BytesToFlush int64 `yaml:"bytes-to-flush"`
}

// Diagnostics configures the diagnostics HTTP server.
type Diagnostics struct {
	HTTPListenAddress string `yaml:"http-listen-address"`
}

// LoadFromFile reads path (or stdin, for path "-") and decodes it into
// a Config, applying defaults and validating the result.
func LoadFromFile(path string) (*Config, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, mirrorutil.StatusWrapf(err, "failed to read configuration file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, mirrorutil.StatusWrap(err, "failed to parse configuration")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Primary.Connection.Impl == "" {
		c.Primary.Connection.Impl = "default"
	}
	if c.Secondary.Connection.Impl == "" {
		c.Secondary.Connection.Impl = "default"
	}
	if c.MismatchDetector.Impl == "" {
		c.MismatchDetector.Impl = "default"
	}
	if c.WriteErrorConsumer.Impl == "" {
		c.WriteErrorConsumer.Impl = "default"
	}
	if c.FlowController.Impl == "" {
		c.FlowController.Impl = "default"
	}
	if c.FlowController.MaxOutstandingRequests <= 0 {
		c.FlowController.MaxOutstandingRequests = 1000
	}
	if c.SecondaryWorkers <= 0 {
		c.SecondaryWorkers = 4
	}
	if c.ReadSamplingRate <= 0 {
		c.ReadSamplingRate = 0.1
	}
}

// validate implements §6/§12's configuration invariant: both backend-
// class keys must be set; when the two connection implementations are
// equal, at least one prefix must be set, the prefixes must differ,
// and neither may end in the "/" table-name separator.
func (c *Config) validate() error {
	if c.Primary.Connection.Impl == "" || c.Secondary.Connection.Impl == "" {
		return status.Error(codes.InvalidArgument, "mirroring.primary.connection.impl and mirroring.secondary.connection.impl must both be set")
	}
	if c.Primary.Connection.Impl == c.Secondary.Connection.Impl {
		if c.Primary.Prefix == "" && c.Secondary.Prefix == "" {
			return status.Error(codes.InvalidArgument, "primary and secondary use the same connection implementation; at least one of mirroring.{primary,secondary}.prefix must be set to disambiguate")
		}
		if c.Primary.Prefix == c.Secondary.Prefix {
			return status.Error(codes.InvalidArgument, "mirroring.primary.prefix and mirroring.secondary.prefix must differ")
		}
		if strings.HasSuffix(c.Primary.Prefix, "/") || strings.HasSuffix(c.Secondary.Prefix, "/") {
			return status.Error(codes.InvalidArgument, "mirroring.{primary,secondary}.prefix must not end in \"/\"")
		}
	}
	return nil
}
