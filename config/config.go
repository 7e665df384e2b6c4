// Package config loads and validates vslsfs configuration.
//
// Configuration files may be written in CUE, YAML or JSON. Whatever the
// format, the document is unified with an embedded CUE schema that supplies
// defaults and constrains values, then decoded into Config and checked by
// Validate.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/internal/logging"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/storage"
)

//go:embed schema.cue
var schemaSource string

// Config holds the settings shared by the host and guest sides.
type Config struct {
	Scheme         string
	SessionScheme  string
	ServiceName    string
	WorkspaceRoot  string
	TrashDir       string
	LogLevel       string
	// RequestTimeout bounds each guest request. Zero disables the bound.
	RequestTimeout time.Duration
	Storage        StorageConfig
	Watch          WatchConfig
}

// Storage types.
const (
	StorageLocal  = "local"
	StorageObject = "object"
)

// StorageConfig selects the host's storage backend. The object fields are
// only used when Type is StorageObject.
type StorageConfig struct {
	Type      string
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// WatchConfig configures the host's workspace watcher.
type WatchConfig struct {
	Pattern  string
	Excludes []string
}

// document is the decoded form of a configuration file.
type document struct {
	Scheme         string     `json:"scheme"`
	SessionScheme  string     `json:"sessionScheme"`
	ServiceName    string     `json:"serviceName"`
	WorkspaceRoot  string     `json:"workspaceRoot"`
	TrashDir       string     `json:"trashDir"`
	LogLevel       string     `json:"logLevel"`
	RequestTimeout string     `json:"requestTimeout"`
	Storage        storageDoc `json:"storage"`
	Watch          watchDoc   `json:"watch"`
}

type storageDoc struct {
	Type      string `json:"type"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	UseSSL    bool   `json:"useSSL"`
}

type watchDoc struct {
	Pattern  string   `json:"pattern"`
	Excludes []string `json:"excludes"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Scheme:         protocol.DefaultScheme,
		SessionScheme:  protocol.DefaultSessionScheme,
		ServiceName:    protocol.DefaultServiceName,
		LogLevel:       logging.LevelInfo.String(),
		RequestTimeout: 30 * time.Second,
		Storage:        StorageConfig{Type: StorageLocal, UseSSL: true},
		Watch:          WatchConfig{Pattern: "**", Excludes: []string{}},
	}
}

// Load reads the configuration file at path from fsys. The format is chosen
// by extension: .cue, .yaml, .yml or .json.
//
// Returns CodeInvalidConfig if the file cannot be read, parsed, or does not
// satisfy the schema.
func Load(ctx context.Context, fsys storage.ReadBackend, path string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig,
			"context cancelled before loading configuration", map[string]interface{}{"path": path})
	}

	data, err := fsys.ReadFile(ctx, path)
	if err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig,
			"failed to read configuration", map[string]interface{}{"path": path})
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, errors.WithContext(err, "path", path)
	}
	return cfg, nil
}

// Parse decodes a configuration document. ext selects the format and
// includes the leading dot.
func Parse(data []byte, ext string) (Config, error) {
	cctx := cuecontext.New()

	var value cue.Value
	switch strings.ToLower(ext) {
	case ".cue":
		value = cctx.CompileBytes(data)
	case ".yaml", ".yml", ".json":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse configuration")
		}
		if raw == nil {
			raw = map[string]interface{}{}
		}
		value = cctx.Encode(raw)
	default:
		return Config{}, errors.Newf(errors.CodeInvalidConfig, "unsupported configuration format %q", ext)
	}
	if err := value.Err(); err != nil {
		return Config{}, wrapCUE(err, "failed to parse configuration")
	}

	schema := cctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInternal, "configuration schema is invalid")
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return Config{}, wrapCUE(err, "configuration does not match schema")
	}

	var doc document
	if err := unified.Decode(&doc); err != nil {
		return Config{}, wrapCUE(err, "failed to decode configuration")
	}

	timeout, err := time.ParseDuration(doc.RequestTimeout)
	if err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig,
			"invalid request timeout", map[string]interface{}{"field": "requestTimeout"})
	}

	cfg := Config{
		Scheme:         doc.Scheme,
		SessionScheme:  doc.SessionScheme,
		ServiceName:    doc.ServiceName,
		WorkspaceRoot:  doc.WorkspaceRoot,
		TrashDir:       doc.TrashDir,
		LogLevel:       doc.LogLevel,
		RequestTimeout: timeout,
		Storage:        StorageConfig(doc.Storage),
		Watch:          WatchConfig{Pattern: doc.Watch.Pattern, Excludes: doc.Watch.Excludes},
	}
	if cfg.Watch.Excludes == nil {
		cfg.Watch.Excludes = []string{}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the constraints the schema cannot express.
func Validate(cfg Config) error {
	invalid := func(field, format string, args ...interface{}) error {
		return errors.WithContext(errors.Newf(errors.CodeInvalidConfig, format, args...), "field", field)
	}

	if cfg.Scheme == "" {
		return invalid("scheme", "scheme cannot be empty")
	}
	if cfg.SessionScheme == "" {
		return invalid("sessionScheme", "session scheme cannot be empty")
	}
	if cfg.Scheme == cfg.SessionScheme {
		return invalid("scheme", "scheme %q must differ from the session scheme", cfg.Scheme)
	}
	if cfg.ServiceName == "" {
		return invalid("serviceName", "service name cannot be empty")
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return invalid("logLevel", "invalid log level %q", cfg.LogLevel)
	}
	if cfg.RequestTimeout < 0 {
		return invalid("requestTimeout", "request timeout cannot be negative, got %s", cfg.RequestTimeout)
	}
	switch cfg.Storage.Type {
	case StorageLocal:
	case StorageObject:
		if cfg.Storage.Endpoint == "" || cfg.Storage.Bucket == "" {
			return invalid("storage", "object storage needs an endpoint and a bucket")
		}
	default:
		return invalid("storage.type", "unknown storage type %q", cfg.Storage.Type)
	}
	if _, err := storage.CompilePattern(cfg.Watch.Pattern); err != nil {
		return invalid("watch.pattern", "invalid watch pattern %q", cfg.Watch.Pattern)
	}
	for _, exclude := range cfg.Watch.Excludes {
		if _, err := storage.CompilePattern(exclude); err != nil {
			return invalid("watch.excludes", "invalid exclude pattern %q", exclude)
		}
	}
	return nil
}

// wrapCUE folds every CUE error into the message so a misconfigured field is
// named even when several fail.
func wrapCUE(err error, message string) error {
	details := cueerrors.Details(err, nil)
	return errors.WrapWithContext(err, errors.CodeInvalidConfig,
		fmt.Sprintf("%s: %s", message, strings.TrimSpace(details)), nil)
}
