// Package settings holds the process configuration of the veloql binary.
//
// Values are layered: defaults, then a JSON file, then VELOQL_* environment
// variables, then command line flags. Every setting has one name used for
// all three, e.g. "store-dsn" is the JSON key path store.dsn, the variable
// VELOQL_STORE_DSN and the flag --store-dsn.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Drivers.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverFS       = "fs"
	DriverS3       = "s3"
	DriverStdout   = "stdout"
)

type (
	// Settings is the process configuration.
	Settings struct {
		Port     string   `json:"port"`
		Model    string   `json:"model"`
		LogMode  string   `json:"logMode"`
		Watch    bool     `json:"watch"`
		Seed     bool     `json:"seed"`
		Truncate bool     `json:"truncate"`
		FilesURL string   `json:"filesUrl"`
		Origins  []string `json:"origins"`
		Store    Store    `json:"store"`
		Bus      Bus      `json:"bus"`
		Cache    Cache    `json:"cache"`
		Blob     Blob     `json:"blob"`
		Tracing  Tracing  `json:"tracing"`
	}

	// Store selects the datastore.
	Store struct {
		Driver string   `json:"driver"`
		DSN    string   `json:"dsn"`
		Slow   Duration `json:"slow"`
	}

	// Bus selects the event bus of subscriptions.
	Bus struct {
		Driver string `json:"driver"`
		Addr   string `json:"addr"`
		Prefix string `json:"prefix"`
	}

	// Cache selects the single item read cache.
	Cache struct {
		Driver string   `json:"driver"`
		Addr   string   `json:"addr"`
		TTL    Duration `json:"ttl"`
	}

	// Blob selects the store of file contents.
	Blob struct {
		Driver string `json:"driver"`
		Root   string `json:"root"`
		S3     S3     `json:"s3"`
	}

	// S3 configures the S3 blob store.
	S3 struct {
		Bucket          string `json:"bucket"`
		Region          string `json:"region"`
		Endpoint        string `json:"endpoint"`
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
		PathStyle       bool   `json:"pathStyle"`
	}

	// Tracing selects the span exporter.
	Tracing struct {
		Exporter    string  `json:"exporter"`
		SampleRatio float64 `json:"sampleRatio"`
	}
)

// Duration is a time.Duration read from a string such as "30s".
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("settings: invalid duration %s", b)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON renders the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the default settings.
func Default() *Settings {
	return &Settings{
		Port:     "8080",
		Model:    "veloql.yaml",
		LogMode:  "development",
		FilesURL: "/files",
		Origins:  []string{"*"},
		Store:    Store{Driver: DriverMemory},
		Bus:      Bus{Driver: DriverMemory, Prefix: "veloql:"},
		Cache:    Cache{Driver: DriverNone, TTL: Duration(time.Minute)},
		Blob:     Blob{Driver: DriverMemory, Root: "./files"},
		Tracing:  Tracing{Exporter: DriverNone, SampleRatio: 1},
	}
}

// Load returns the default settings overlaid with the JSON file at path,
// when path is set, and the environment.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("settings: %s: %w", path, err)
		}
	}
	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return s, nil
}

// EnvName returns the environment variable of a setting.
func EnvName(setting string) string {
	return "VELOQL_" + strings.ToUpper(strings.ReplaceAll(setting, "-", "_"))
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, f := range fields {
		v, ok := lookup(EnvName(f.name))
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := set(f.ptr(s), strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("settings: %s: %w", EnvName(f.name), err))
		}
	}
	return errors.Join(errs...)
}

func set(p any, v string) error {
	switch p := p.(type) {
	case *string:
		*p = v
	case *bool:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
	case *float64:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p = f
	case *Duration:
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = Duration(d)
	case *[]string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*p = out
	default:
		return fmt.Errorf("unsupported setting type %T", p)
	}
	return nil
}

// Validate checks drivers and required values.
func (s *Settings) Validate() error {
	var errs []error
	check := func(name, v string, allowed ...string) {
		if !slices.Contains(allowed, v) {
			errs = append(errs, fmt.Errorf("settings: %s %q is not one of %s", name, v, strings.Join(allowed, ", ")))
		}
	}
	check("store-driver", s.Store.Driver, DriverMemory, DriverSQLite, DriverPostgres)
	check("bus-driver", s.Bus.Driver, DriverNone, DriverMemory, DriverRedis)
	check("cache-driver", s.Cache.Driver, DriverNone, DriverMemory, DriverRedis)
	check("blob-driver", s.Blob.Driver, DriverNone, DriverMemory, DriverFS, DriverS3)
	check("tracing-exporter", s.Tracing.Exporter, DriverNone, DriverStdout)
	if s.Model == "" {
		errs = append(errs, errors.New("settings: model is required"))
	}
	if s.Store.Driver != DriverMemory && s.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("settings: store-dsn is required for %s", s.Store.Driver))
	}
	if s.Bus.Driver == DriverRedis && s.Bus.Addr == "" {
		errs = append(errs, errors.New("settings: bus-addr is required for redis"))
	}
	if s.Cache.Driver == DriverRedis && s.Cache.Addr == "" {
		errs = append(errs, errors.New("settings: cache-addr is required for redis"))
	}
	if s.Blob.Driver == DriverS3 && s.Blob.S3.Bucket == "" {
		errs = append(errs, errors.New("settings: blob-s3-bucket is required for s3"))
	}
	if s.Tracing.SampleRatio < 0 || s.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("settings: tracing-sample-ratio %v is not within [0, 1]", s.Tracing.SampleRatio))
	}
	return errors.Join(errs...)
}
