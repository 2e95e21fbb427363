// Package config loads the ordersync YAML configuration.
//
// A file is decoded over Default, validated against the embedded CUE schema
// and then converted into typed settings. Durations are Go duration strings
// ("15s", "1m30s").
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ordersync/internal/transport"
)

// EnvConfig names the config file when no path is given.
const EnvConfig = "ORDERSYNC_CONFIG"

//go:embed schema.cue
var schemaSource string

// File mirrors the YAML layout. Durations stay strings until validated.
type File struct {
	Tenant        string            `yaml:"tenant" json:"tenant"`
	API           APIFile           `yaml:"api" json:"api"`
	Realtime      RealtimeFile      `yaml:"realtime" json:"realtime"`
	Queue         QueueFile         `yaml:"queue" json:"queue"`
	Print         PrintFile         `yaml:"print" json:"print"`
	Notifications NotificationsFile `yaml:"notifications" json:"notifications"`
}

type APIFile struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Timeout string `yaml:"timeout" json:"timeout"`
	Token   string `yaml:"token" json:"token"`
}

type RealtimeFile struct {
	URL               string `yaml:"url" json:"url"`
	HeartbeatInterval string `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	BackoffInitial    string `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax        string `yaml:"backoff_max" json:"backoff_max"`
	MaxFailures       int    `yaml:"max_failures" json:"max_failures"`
	PollInterval      string `yaml:"poll_interval" json:"poll_interval"`
}

type QueueFile struct {
	DBPath     string `yaml:"db_path" json:"db_path"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

type PrintFile struct {
	Timeout string `yaml:"timeout" json:"timeout"`
}

type NotificationsFile struct {
	ItemsReadyCap int    `yaml:"items_ready_cap" json:"items_ready_cap"`
	AMQPURL       string `yaml:"amqp_url" json:"amqp_url"`
	AMQPExchange  string `yaml:"amqp_exchange" json:"amqp_exchange"`
}

// Default returns the file every config is decoded over.
func Default() File {
	return File{
		API: APIFile{Timeout: "15s"},
		Realtime: RealtimeFile{
			HeartbeatInterval: "15s",
			BackoffInitial:    "1s",
			BackoffMax:        "30s",
			MaxFailures:       5,
			PollInterval:      "30s",
		},
		Queue:         QueueFile{DBPath: "ordersync.db", MaxRetries: 5},
		Print:         PrintFile{Timeout: "30s"},
		Notifications: NotificationsFile{ItemsReadyCap: 50},
	}
}

// Config is a validated configuration.
type Config struct {
	Tenant string

	APIBaseURL string
	APITimeout time.Duration
	APIToken   string

	RealtimeURL string
	Realtime    transport.Config

	DBPath     string
	MaxRetries int

	PrintTimeout time.Duration

	ItemsReadyCap int
	AMQPURL       string
	AMQPExchange  string
}

// ValidationError is a schema violation at a config path.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Resolve returns path, or the EnvConfig value when path is empty.
func Resolve(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(EnvConfig)
}

// Load reads and validates the file at Resolve(path).
func Load(path string) (*Config, error) {
	path = Resolve(path)
	if path == "" {
		return nil, fmt.Errorf("config: no file given; use --config or set %s", EnvConfig)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates it. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	return f.convert()
}

// Validate checks f against the embedded schema and returns the first
// violation.
func Validate(f File) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(f))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	path := make([]string, 0, len(first.Path()))
	for _, p := range first.Path() {
		if !strings.HasPrefix(p, "#") {
			path = append(path, p)
		}
	}
	return &ValidationError{
		Path:    strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}

func (f File) convert() (*Config, error) {
	var errs []error
	dur := func(path, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, &ValidationError{Path: path, Message: err.Error()})
		}
		return d
	}

	rt := transport.DefaultConfig()
	rt.HeartbeatInterval = dur("realtime.heartbeat_interval", f.Realtime.HeartbeatInterval)
	rt.BackoffInitial = dur("realtime.backoff_initial", f.Realtime.BackoffInitial)
	rt.BackoffMax = dur("realtime.backoff_max", f.Realtime.BackoffMax)
	rt.PollInterval = dur("realtime.poll_interval", f.Realtime.PollInterval)
	rt.MaxFailures = f.Realtime.MaxFailures

	cfg := &Config{
		Tenant:        f.Tenant,
		APIBaseURL:    f.API.BaseURL,
		APITimeout:    dur("api.timeout", f.API.Timeout),
		APIToken:      f.API.Token,
		RealtimeURL:   f.Realtime.URL,
		Realtime:      rt,
		DBPath:        f.Queue.DBPath,
		MaxRetries:    f.Queue.MaxRetries,
		PrintTimeout:  dur("print.timeout", f.Print.Timeout),
		ItemsReadyCap: f.Notifications.ItemsReadyCap,
		AMQPURL:       f.Notifications.AMQPURL,
		AMQPExchange:  f.Notifications.AMQPExchange,
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}

	for _, c := range []struct {
		path string
		d    time.Duration
	}{
		{"api.timeout", cfg.APITimeout},
		{"realtime.heartbeat_interval", rt.HeartbeatInterval},
		{"realtime.backoff_initial", rt.BackoffInitial},
		{"realtime.poll_interval", rt.PollInterval},
		{"print.timeout", cfg.PrintTimeout},
	} {
		if c.d <= 0 {
			return nil, &ValidationError{Path: c.path, Message: "must be positive"}
		}
	}
	if rt.BackoffMax < rt.BackoffInitial {
		return nil, &ValidationError{Path: "realtime.backoff_max", Message: "must not be below backoff_initial"}
	}
	return cfg, nil
}
