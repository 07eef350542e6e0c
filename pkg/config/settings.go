package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/andrej220/autopilot/pkg/config/configstore"
)

// Duration is a time.Duration written as "30s" in settings files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

type Settings struct {
	Server  ServerSettings  `yaml:"server" toml:"server" json:"server" bson:"server"`
	Log     LogSettings     `yaml:"log" toml:"log" json:"log" bson:"log"`
	SSH     SSHSettings     `yaml:"ssh" toml:"ssh" json:"ssh" bson:"ssh"`
	Tasks   TaskSettings    `yaml:"tasks" toml:"tasks" json:"tasks" bson:"tasks"`
	Archive ArchiveSettings `yaml:"archive" toml:"archive" json:"archive" bson:"archive"`
	Kafka   KafkaSettings   `yaml:"kafka" toml:"kafka" json:"kafka" bson:"kafka"`
}

type ServerSettings struct {
	Addr            string   `yaml:"addr" toml:"addr" json:"addr" bson:"addr" validate:"required"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout" bson:"shutdown_timeout"`
	UploadDir       string   `yaml:"upload_dir" toml:"upload_dir" json:"upload_dir" bson:"upload_dir"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" toml:"max_body_bytes" json:"max_body_bytes" bson:"max_body_bytes" validate:"gte=0"`
	Workers         int      `yaml:"workers" toml:"workers" json:"workers" bson:"workers" validate:"gte=1"`
	Metrics         bool     `yaml:"metrics" toml:"metrics" json:"metrics" bson:"metrics"`
}

type LogSettings struct {
	Debug  bool   `yaml:"debug" toml:"debug" json:"debug" bson:"debug"`
	Format string `yaml:"format" toml:"format" json:"format" bson:"format" validate:"oneof=json console"`
}

type SSHSettings struct {
	Transport             string `yaml:"transport" toml:"transport" json:"transport" bson:"transport" validate:"oneof=subprocess native"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key" toml:"insecure_ignore_host_key" json:"insecure_ignore_host_key" bson:"insecure_ignore_host_key"`
	KnownHostsFile        string `yaml:"known_hosts_file" toml:"known_hosts_file" json:"known_hosts_file" bson:"known_hosts_file"`
	Keygen                string `yaml:"keygen" toml:"keygen" json:"keygen" bson:"keygen" validate:"required"`
}

type TaskSettings struct {
	// Timeout bounds each task; zero means unbounded.
	Timeout     Duration `yaml:"timeout" toml:"timeout" json:"timeout" bson:"timeout"`
	HTTPTimeout Duration `yaml:"http_timeout" toml:"http_timeout" json:"http_timeout" bson:"http_timeout"`
}

type ArchiveSettings struct {
	Backend string      `yaml:"backend" toml:"backend" json:"backend" bson:"backend" validate:"oneof=memory file mongo"`
	Dir     string      `yaml:"dir" toml:"dir" json:"dir" bson:"dir" validate:"required_if=Backend file"`
	Mongo   MongoConfig `yaml:"mongo" toml:"mongo" json:"mongo" bson:"mongo"`
}

type KafkaSettings struct {
	Brokers      []string `yaml:"brokers" toml:"brokers" json:"brokers" bson:"brokers"`
	RequestTopic string   `yaml:"request_topic" toml:"request_topic" json:"request_topic" bson:"request_topic" validate:"required"`
	ResultTopic  string   `yaml:"result_topic" toml:"result_topic" json:"result_topic" bson:"result_topic" validate:"required"`
	GroupID      string   `yaml:"group_id" toml:"group_id" json:"group_id" bson:"group_id" validate:"required"`
}

func Defaults() Settings {
	return Settings{
		Server: ServerSettings{
			Addr:            ":8080",
			ShutdownTimeout: Duration(15 * time.Second),
			MaxBodyBytes:    10 << 20,
			Workers:         4,
			Metrics:         true,
		},
		Log: LogSettings{Format: "json"},
		SSH: SSHSettings{Transport: "subprocess", Keygen: "ssh-keygen"},
		Archive: ArchiveSettings{
			Backend: "memory",
			Dir:     "reports",
			Mongo:   MongoConfig{DBName: "autopilot", CollName: "runs"},
		},
		Kafka: KafkaSettings{
			RequestTopic: "autopilot.runs",
			ResultTopic:  "autopilot.results",
			GroupID:      "autopilot-worker",
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Archive.Backend == "mongo" && s.Archive.Mongo.URI == "" {
		return errors.New("invalid settings: archive.mongo.uri is required for the mongo backend")
	}
	return nil
}

// Load starts from Defaults, decodes store on top when given, applies the
// environment (including dotenvPath when it exists) and validates.
func Load(ctx context.Context, store configstore.ConfigStore, dotenvPath string) (*Settings, error) {
	s := Defaults()
	if store != nil {
		if err := store.Load(ctx, &s); err != nil {
			return nil, err
		}
	}
	lookup, err := EnvLookup(dotenvPath)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(&s, lookup); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// EnvLookup returns a lookup over the process environment that falls back
// to the values of dotenvPath. A missing dotenv file is ignored.
func EnvLookup(dotenvPath string) (func(string) (string, bool), error) {
	values := map[string]string{}
	if dotenvPath != "" {
		if info, err := os.Stat(dotenvPath); err == nil && !info.IsDir() {
			values, err = godotenv.Read(dotenvPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", dotenvPath, err)
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

type envBinding struct {
	key string
	set func(s *Settings, v string) error
}

var envBindings = []envBinding{
	{"AUTOPILOT_SERVER_ADDR", func(s *Settings, v string) error { s.Server.Addr = v; return nil }},
	{"AUTOPILOT_SERVER_WORKERS", func(s *Settings, v string) error { return setInt(&s.Server.Workers, v) }},
	{"AUTOPILOT_UPLOAD_DIR", func(s *Settings, v string) error { s.Server.UploadDir = v; return nil }},
	{"AUTOPILOT_METRICS", func(s *Settings, v string) error { return setBool(&s.Server.Metrics, v) }},
	{"AUTOPILOT_LOG_DEBUG", func(s *Settings, v string) error { return setBool(&s.Log.Debug, v) }},
	{"AUTOPILOT_LOG_FORMAT", func(s *Settings, v string) error { s.Log.Format = v; return nil }},
	{"AUTOPILOT_SSH_TRANSPORT", func(s *Settings, v string) error { s.SSH.Transport = v; return nil }},
	{"AUTOPILOT_SSH_INSECURE_IGNORE_HOST_KEY", func(s *Settings, v string) error { return setBool(&s.SSH.InsecureIgnoreHostKey, v) }},
	{"AUTOPILOT_SSH_KNOWN_HOSTS", func(s *Settings, v string) error { s.SSH.KnownHostsFile = v; return nil }},
	{"AUTOPILOT_TASK_TIMEOUT", func(s *Settings, v string) error { return s.Tasks.Timeout.UnmarshalText([]byte(v)) }},
	{"AUTOPILOT_HTTP_TIMEOUT", func(s *Settings, v string) error { return s.Tasks.HTTPTimeout.UnmarshalText([]byte(v)) }},
	{"AUTOPILOT_ARCHIVE_BACKEND", func(s *Settings, v string) error { s.Archive.Backend = v; return nil }},
	{"AUTOPILOT_ARCHIVE_DIR", func(s *Settings, v string) error { s.Archive.Dir = v; return nil }},
	{"AUTOPILOT_MONGO_URI", func(s *Settings, v string) error { s.Archive.Mongo.URI = v; return nil }},
	{"AUTOPILOT_KAFKA_BROKERS", func(s *Settings, v string) error { s.Kafka.Brokers = splitList(v); return nil }},
	{"AUTOPILOT_KAFKA_REQUEST_TOPIC", func(s *Settings, v string) error { s.Kafka.RequestTopic = v; return nil }},
	{"AUTOPILOT_KAFKA_RESULT_TOPIC", func(s *Settings, v string) error { s.Kafka.ResultTopic = v; return nil }},
	{"AUTOPILOT_KAFKA_GROUP_ID", func(s *Settings, v string) error { s.Kafka.GroupID = v; return nil }},
}

// ApplyEnv overrides settings from AUTOPILOT_* variables.
func ApplyEnv(s *Settings, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.set(s, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
	}
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
