// Package config loads the scheduler's static configuration from a TOML
// manifest, following the same decode-then-validate shape used elsewhere in
// this codebase for repo-local manifests.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ManifestPath is the relative path for the scheduler manifest inside a
// config directory.
const ManifestPath = "rexec.toml"

// ManifestVersion is the current supported manifest schema version.
const ManifestVersion = 1

// durationConfig mirrors a (seconds, nanos) pair the way the Remote
// Execution API expresses durations on the wire, so config files can be
// compared against action timeouts using the same lexicographic rule.
type durationConfig struct {
	Seconds int64 `toml:"seconds"`
	Nanos   int32 `toml:"nanos"`
}

func (d durationConfig) toDuration() time.Duration {
	return time.Duration(d.Seconds)*time.Second + time.Duration(d.Nanos)*time.Nanosecond
}

// CacheBinding selects which concrete backing a cache-shaped collaborator
// uses.
type CacheBinding string

const (
	// BindingDelegateCAS routes the cache through the in-process
	// digest-indexed map backed by the CAS (component I, §4.I).
	BindingDelegateCAS CacheBinding = "delegate-cas"
	// BindingRemoteGRPC routes the cache through a remote gRPC service.
	BindingRemoteGRPC CacheBinding = "remote-grpc"
)

// Manifest is the decoded form of rexec.toml, mirroring the Configuration
// table in §6 of the scheduler specification.
type Manifest struct {
	Version int `toml:"version"`

	Timeouts struct {
		MaximumActionTimeout   durationConfig `toml:"maximum_action_timeout"`
		DefaultActionTimeout   durationConfig `toml:"default_action_timeout"`
		OperationPollTimeout   durationConfig `toml:"operation_poll_timeout"`
		OperationCompleteDelay durationConfig `toml:"operation_completed_delay"`
	} `toml:"timeouts"`

	Paging struct {
		ListOperationsDefaultPageSize int `toml:"list_operations_default_page_size"`
		ListOperationsMaxPageSize     int `toml:"list_operations_max_page_size"`
		TreeDefaultPageSize           int `toml:"tree_default_page_size"`
		TreeMaxPageSize               int `toml:"tree_max_page_size"`
	} `toml:"paging"`

	Backends struct {
		ActionCache CacheBinding `toml:"action_cache"`
		CAS         CacheBinding `toml:"cas"`
	} `toml:"backends"`
}

// Config is the normalized, ready-to-use form of Manifest that the
// scheduler's components consume directly.
type Config struct {
	// MaximumActionTimeout rejects actions whose declared timeout exceeds
	// this value (§4.G Validation). Zero means no declared maximum, but
	// callers should treat that as "reject everything with a timeout" per
	// §8 boundary rules, so Load always requires a positive value.
	MaximumActionTimeout time.Duration

	// DefaultActionTimeout is used for the completion watchdog when the
	// action itself declares no timeout. Zero means the completion
	// watchdog is never installed for untimed actions.
	DefaultActionTimeout time.Duration

	// OperationPollTimeout is the inactivity window for the requeue
	// watchdog (§4.A petted mode).
	OperationPollTimeout time.Duration

	// OperationCompletedDelay is grace added on top of the action timeout
	// for the completion watchdog (§4.G).
	OperationCompletedDelay time.Duration

	ListOperationsDefaultPageSize int
	ListOperationsMaxPageSize     int
	TreeDefaultPageSize           int
	TreeMaxPageSize               int

	ActionCacheBinding CacheBinding
	CASBinding         CacheBinding
}

// Default returns sane defaults matching the scenarios in §8 of the
// specification (S1-S3): a one minute default action timeout, ten seconds
// of completion grace, and a five second poll window.
func Default() Config {
	return Config{
		MaximumActionTimeout:          1 * time.Hour,
		DefaultActionTimeout:          60 * time.Second,
		OperationPollTimeout:          5 * time.Second,
		OperationCompletedDelay:       10 * time.Second,
		ListOperationsDefaultPageSize: 100,
		ListOperationsMaxPageSize:     1000,
		TreeDefaultPageSize:           100,
		TreeMaxPageSize:               1000,
		ActionCacheBinding:            BindingDelegateCAS,
		CASBinding:                    BindingDelegateCAS,
	}
}

// Load reads and parses a scheduler manifest from the given directory.
// Returns the defaults, unmodified, if the manifest is not present.
func Load(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, ManifestPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if _, err := toml.Decode(string(data), &manifest); err != nil {
		return Config{}, fmt.Errorf("parsing manifest: %w", err)
	}

	if err := manifest.validate(); err != nil {
		return Config{}, err
	}

	return manifest.normalize(cfg), nil
}

func (m *Manifest) validate() error {
	if m.Version == 0 {
		return fmt.Errorf("manifest version missing (expected %d)", ManifestVersion)
	}
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d (expected %d)", m.Version, ManifestVersion)
	}
	return nil
}

// normalize overlays non-zero fields from the manifest onto the supplied
// base config, so a manifest only needs to specify the values it wants to
// override.
func (m *Manifest) normalize(base Config) Config {
	cfg := base

	if d := m.Timeouts.MaximumActionTimeout.toDuration(); d > 0 {
		cfg.MaximumActionTimeout = d
	}
	if d := m.Timeouts.DefaultActionTimeout.toDuration(); d > 0 {
		cfg.DefaultActionTimeout = d
	}
	if d := m.Timeouts.OperationPollTimeout.toDuration(); d > 0 {
		cfg.OperationPollTimeout = d
	}
	if d := m.Timeouts.OperationCompleteDelay.toDuration(); d > 0 {
		cfg.OperationCompletedDelay = d
	}

	if m.Paging.ListOperationsDefaultPageSize > 0 {
		cfg.ListOperationsDefaultPageSize = m.Paging.ListOperationsDefaultPageSize
	}
	if m.Paging.ListOperationsMaxPageSize > 0 {
		cfg.ListOperationsMaxPageSize = m.Paging.ListOperationsMaxPageSize
	}
	if m.Paging.TreeDefaultPageSize > 0 {
		cfg.TreeDefaultPageSize = m.Paging.TreeDefaultPageSize
	}
	if m.Paging.TreeMaxPageSize > 0 {
		cfg.TreeMaxPageSize = m.Paging.TreeMaxPageSize
	}

	if m.Backends.ActionCache != "" {
		cfg.ActionCacheBinding = m.Backends.ActionCache
	}
	if m.Backends.CAS != "" {
		cfg.CASBinding = m.Backends.CAS
	}

	return cfg
}
