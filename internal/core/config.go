package core

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/semver"
)

// minTTLDays is the shortest retention accepted for any model.
const minTTLDays = 2

type Config struct {
	Role     string `mapstructure:"role"`
	GRPCHost string `mapstructure:"gRPCHost"`
	// GRPCPort 0 binds a free port, which is then the registered one.
	GRPCPort             int    `mapstructure:"gRPCPort"`
	GRPCSSLEnabled       bool   `mapstructure:"gRPCSslEnabled"`
	GRPCSSLCertChainPath string `mapstructure:"gRPCSslCertChainPath"`
	GRPCSSLKeyPath       string `mapstructure:"gRPCSslKeyPath"`
	// GRPCSSLTrustedCAPath verifies peers when the remote channel uses TLS.
	GRPCSSLTrustedCAPath          string `mapstructure:"gRPCSslTrustedCAPath"`
	GRPCMaxConcurrentCallsPerConn uint32 `mapstructure:"gRPCMaxConcurrentCallsPerConnection"`
	GRPCMaxMessageSize            int    `mapstructure:"gRPCMaxMessageSize"`

	RemoteTimeout         time.Duration `mapstructure:"remoteTimeout"`
	RemoteRefreshInterval time.Duration `mapstructure:"remoteRefreshInterval"`

	EnableDataKeeperExecutor bool          `mapstructure:"enableDataKeeperExecutor"`
	DataKeeperExecutePeriod  time.Duration `mapstructure:"dataKeeperExecutePeriod"`
	// RecordDataTTL and MetricsDataTTL are in days.
	RecordDataTTL  int `mapstructure:"recordDataTTL"`
	MetricsDataTTL int `mapstructure:"metricsDataTTL"`

	RecordModels  []string `mapstructure:"recordModels"`
	MetricsModels []string `mapstructure:"metricsModels"`

	// ProtocolVersion is published with the member record. Peers whose
	// version falls outside VersionConstraint make the member list invalid.
	ProtocolVersion   string `mapstructure:"protocolVersion"`
	VersionConstraint string `mapstructure:"versionConstraint"`
}

func defaultConfig() *Config {
	return &Config{
		Role:                     string(cluster.RoleMixed),
		GRPCHost:                 "0.0.0.0",
		GRPCPort:                 11800,
		RemoteTimeout:            20 * time.Second,
		RemoteRefreshInterval:    5 * time.Second,
		EnableDataKeeperExecutor: true,
		DataKeeperExecutePeriod:  5 * time.Minute,
		RecordDataTTL:            3,
		MetricsDataTTL:           7,
		RecordModels:             []string{"segment", "log"},
		MetricsModels:            []string{"service_cpm", "endpoint_cpm"},
		ProtocolVersion:          "1.0.0",
	}
}

func (c *Config) Validate() error {
	if _, err := cluster.ParseRole(c.Role); err != nil {
		return err
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return errors.Newf("gRPCPort %d out of range", c.GRPCPort)
	}
	if c.GRPCSSLEnabled && (c.GRPCSSLCertChainPath == "" || c.GRPCSSLKeyPath == "") {
		return errors.New("gRPCSslEnabled requires gRPCSslCertChainPath and gRPCSslKeyPath")
	}
	if c.RecordDataTTL < minTTLDays {
		return errors.Newf("recordDataTTL must be at least %d days, got %d", minTTLDays, c.RecordDataTTL)
	}
	if c.MetricsDataTTL < minTTLDays {
		return errors.Newf("metricsDataTTL must be at least %d days, got %d", minTTLDays, c.MetricsDataTTL)
	}
	if c.EnableDataKeeperExecutor && c.DataKeeperExecutePeriod <= 0 {
		return errors.New("dataKeeperExecutePeriod must be positive")
	}
	if c.RemoteRefreshInterval <= 0 {
		return errors.New("remoteRefreshInterval must be positive")
	}
	if _, err := semver.ParseVersion(c.ProtocolVersion); err != nil {
		return errors.Wrap(err, "protocolVersion")
	}
	if c.VersionConstraint != "" {
		if _, err := semver.ParseConstraint(c.VersionConstraint); err != nil {
			return errors.Wrap(err, "versionConstraint")
		}
	}
	return nil
}
