package settings

import (
	"time"

	"github.com/spf13/pflag"
)

type field struct {
	name  string
	usage string
	ptr   func(*Settings) any
}

var fields = []field{
	{"port", "HTTP listen port", func(s *Settings) any { return &s.Port }},
	{"model", "model configuration file or directory", func(s *Settings) any { return &s.Model }},
	{"log-mode", "logger mode: development or production", func(s *Settings) any { return &s.LogMode }},
	{"watch", "reload the model when its configuration changes", func(s *Settings) any { return &s.Watch }},
	{"seed", "load the seeds of the model on start", func(s *Settings) any { return &s.Seed }},
	{"truncate", "truncate collections before seeding", func(s *Settings) any { return &s.Truncate }},
	{"files-url", "URL prefix of file downloads", func(s *Settings) any { return &s.FilesURL }},
	{"origins", "allowed CORS origins", func(s *Settings) any { return &s.Origins }},
	{"store-driver", "datastore: memory, sqlite or postgres", func(s *Settings) any { return &s.Store.Driver }},
	{"store-dsn", "datastore connection string", func(s *Settings) any { return &s.Store.DSN }},
	{"store-slow", "log statements slower than this", func(s *Settings) any { return &s.Store.Slow }},
	{"bus-driver", "event bus: none, memory or redis", func(s *Settings) any { return &s.Bus.Driver }},
	{"bus-addr", "Redis address of the event bus", func(s *Settings) any { return &s.Bus.Addr }},
	{"bus-prefix", "Redis channel prefix", func(s *Settings) any { return &s.Bus.Prefix }},
	{"cache-driver", "read cache: none, memory or redis", func(s *Settings) any { return &s.Cache.Driver }},
	{"cache-addr", "Redis address of the read cache", func(s *Settings) any { return &s.Cache.Addr }},
	{"cache-ttl", "lifetime of cached reads", func(s *Settings) any { return &s.Cache.TTL }},
	{"blob-driver", "file store: none, memory, fs or s3", func(s *Settings) any { return &s.Blob.Driver }},
	{"blob-root", "root directory of the fs file store", func(s *Settings) any { return &s.Blob.Root }},
	{"blob-s3-bucket", "S3 bucket", func(s *Settings) any { return &s.Blob.S3.Bucket }},
	{"blob-s3-region", "S3 region", func(s *Settings) any { return &s.Blob.S3.Region }},
	{"blob-s3-endpoint", "S3 endpoint override", func(s *Settings) any { return &s.Blob.S3.Endpoint }},
	{"blob-s3-access-key-id", "S3 access key id", func(s *Settings) any { return &s.Blob.S3.AccessKeyID }},
	{"blob-s3-secret-access-key", "S3 secret access key", func(s *Settings) any { return &s.Blob.S3.SecretAccessKey }},
	{"blob-s3-path-style", "use path style S3 addressing", func(s *Settings) any { return &s.Blob.S3.PathStyle }},
	{"tracing-exporter", "span exporter: none or stdout", func(s *Settings) any { return &s.Tracing.Exporter }},
	{"tracing-sample-ratio", "fraction of traces sampled", func(s *Settings) any { return &s.Tracing.SampleRatio }},
}

// Flags binds every setting to a flag of fs. Apply copies the flags that
// were set on the command line into a Settings.
type Flags struct {
	fs      *pflag.FlagSet
	scratch *Settings
}

// Bind registers the setting flags on fs. Flag defaults show the built-in
// defaults; only flags given explicitly override other sources.
func Bind(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, scratch: Default()}
	for _, fd := range fields {
		switch p := fd.ptr(f.scratch).(type) {
		case *string:
			fs.StringVar(p, fd.name, *p, fd.usage)
		case *bool:
			fs.BoolVar(p, fd.name, *p, fd.usage)
		case *float64:
			fs.Float64Var(p, fd.name, *p, fd.usage)
		case *Duration:
			fs.DurationVar((*time.Duration)(p), fd.name, time.Duration(*p), fd.usage)
		case *[]string:
			fs.StringSliceVar(p, fd.name, *p, fd.usage)
		}
	}
	return f
}

// Apply overrides s with the flags that were set. Changed is read per flag
// since a subcommand parses persistent flags through its own flag set.
func (f *Flags) Apply(s *Settings) {
	byName := make(map[string]field, len(fields))
	for _, fd := range fields {
		byName[fd.name] = fd
	}
	f.fs.VisitAll(func(fl *pflag.Flag) {
		fd, ok := byName[fl.Name]
		if !ok || !fl.Changed {
			return
		}
		switch dst := fd.ptr(s).(type) {
		case *string:
			*dst = *fd.ptr(f.scratch).(*string)
		case *bool:
			*dst = *fd.ptr(f.scratch).(*bool)
		case *float64:
			*dst = *fd.ptr(f.scratch).(*float64)
		case *Duration:
			*dst = *fd.ptr(f.scratch).(*Duration)
		case *[]string:
			*dst = *fd.ptr(f.scratch).(*[]string)
		}
	})
}
