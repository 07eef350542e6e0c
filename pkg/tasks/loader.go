package tasks

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/task.schema.json
var taskSchemaJSON []byte

var (
	validate   *validator.Validate
	taskSchema *gojsonschema.Schema
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	var err error
	taskSchema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(taskSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("tasks: invalid embedded task schema: %v", err))
	}
}

// Document is a parsed configuration document: phase name to raw value.
type Document map[string]json.RawMessage

// ParseDocument decodes a configuration document. The document must be a
// JSON object; anything else is a phase-level failure.
func ParseDocument(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("configuration document is empty")
	}
	if trimmed[0] != '{' {
		return nil, errors.New("configuration document must be a JSON object")
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse configuration document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// ReadDocument reads and parses the configuration document at path.
func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	return ParseDocument(data)
}

// LoadPhase parses data and returns the task list of phase.
func LoadPhase(data []byte, phase string) ([]Task, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.Phase(phase)
}

// Has reports whether the document declares phase as a key.
func (d Document) Has(phase string) bool {
	_, ok := d[phase]
	return ok
}

// Phases returns the keys whose value is an array, sorted.
func (d Document) Phases() []string {
	names := make([]string, 0, len(d))
	for name, raw := range d {
		if isArray(raw) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Phase returns the ordered tasks of the named phase. An absent phase or a
// non-array value yields an empty list and no error. Tasks with an
// unrecognized type are returned with a nil Config.
func (d Document) Phase(name string) ([]Task, error) {
	raw, ok := d[name]
	if !ok || !isArray(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("phase %q: %w", name, err)
	}

	list := make([]Task, 0, len(items))
	for i, item := range items {
		t, err := parseTask(i+1, item)
		if err != nil {
			return nil, fmt.Errorf("phase %q: %w", name, err)
		}
		list = append(list, t)
	}
	return list, nil
}

// Validate loads every phase and additionally rejects unknown task types
// and configs with empty required fields. Phase leaves both to run time.
func (d Document) Validate() error {
	var errs []error
	for _, name := range d.Phases() {
		list, err := d.Phase(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, t := range list {
			if !t.Known() {
				errs = append(errs, fmt.Errorf("phase %q: %w", name,
					malformedf(t.Index, "unknown task type %q", t.Type)))
				continue
			}
			if err := checkRequired(t); err != nil {
				errs = append(errs, fmt.Errorf("phase %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

type envelope struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

func parseTask(index int, raw json.RawMessage) (Task, error) {
	res, err := taskSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Task{}, malformedf(index, "%v", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Task{}, malformedf(index, "%s", strings.Join(msgs, "; "))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Task{}, malformedf(index, "%v", err)
	}

	t := Task{Index: index, Type: env.Type}
	switch Kind(env.Type) {
	case KindDatabase:
		t.Config, err = decodeConfig[DatabaseConfig](index, env.Config)
	case KindShell:
		t.Config, err = decodeConfig[ShellConfig](index, env.Config)
	case KindHTTP:
		t.Config, err = decodeConfig[HTTPConfig](index, env.Config)
	}
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func decodeConfig[T any, PT interface {
	*T
	Config
}](index int, raw json.RawMessage) (Config, error) {
	var cfg T
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, malformedf(index, "config does not match %s shape: %v", PT(&cfg).Kind(), err)
	}
	return PT(&cfg), nil
}

// checkRequired reports the empty required fields of a known task.
func checkRequired(t Task) error {
	err := validate.Struct(t.Config)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return malformedf(t.Index, "%s config missing required field(s): %s",
			t.Config.Kind(), strings.Join(fields, ", "))
	}
	return malformedf(t.Index, "%v", err)
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
