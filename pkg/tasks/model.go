// Package tasks holds the declarative deployment model: typed task configs,
// the loader that turns a configuration document into an ordered phase, and
// the outcome/report types produced when a phase runs.
package tasks

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind is the task discriminator as written in the "type" field.
type Kind string

const (
	KindDatabase Kind = "db"
	KindShell    Kind = "shell"
	KindHTTP     Kind = "api"
)

// Config is implemented by the three task payloads.
type Config interface {
	Kind() Kind
}

// Task is one entry of a phase. Config is nil when Type is not a known kind;
// the processor reports such tasks as warnings instead of running them.
type Task struct {
	Index  int
	Type   string
	Config Config
}

// Known reports whether the task resolved to one of the typed configs.
func (t Task) Known() bool { return t.Config != nil }

// DatabaseConfig describes a SQL script run.
type DatabaseConfig struct {
	ConnectionURL string `json:"connectionUrl" validate:"required"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	ScriptPath    string `json:"scriptPath" validate:"required"`
}

func (*DatabaseConfig) Kind() Kind { return KindDatabase }

// UnmarshalJSON also accepts the legacy dbUrl/dbUsername/dbPassword/sqlFilepath names.
func (c *DatabaseConfig) UnmarshalJSON(b []byte) error {
	var aux struct {
		ConnectionURL string `json:"connectionUrl"`
		Username      string `json:"username"`
		Password      string `json:"password"`
		ScriptPath    string `json:"scriptPath"`
		DBURL         string `json:"dbUrl"`
		DBUsername    string `json:"dbUsername"`
		DBPassword    string `json:"dbPassword"`
		SQLFilepath   string `json:"sqlFilepath"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	c.ConnectionURL = firstNonEmpty(aux.ConnectionURL, aux.DBURL)
	c.Username = firstNonEmpty(aux.Username, aux.DBUsername)
	c.Password = firstNonEmpty(aux.Password, aux.DBPassword)
	c.ScriptPath = firstNonEmpty(aux.ScriptPath, aux.SQLFilepath)
	return nil
}

// ShellConfig describes a script pushed to and run on a remote host.
type ShellConfig struct {
	HostAddress          string `json:"hostAddress" validate:"required"`
	RemoteUsername       string `json:"remoteUsername" validate:"required"`
	LocalScriptPath      string `json:"localScriptPath" validate:"required"`
	PrivateKeyPath       string `json:"privateKeyPath" validate:"required"`
	PrivateKeyPassphrase string `json:"privateKeyPassphrase,omitempty"`
}

func (*ShellConfig) Kind() Kind { return KindShell }

// UnmarshalJSON also accepts the legacy serverIp/serverUsername/shellScriptFilepath/
// privateKeyPemFilepath/pemFilePassword names.
func (c *ShellConfig) UnmarshalJSON(b []byte) error {
	var aux struct {
		HostAddress           string `json:"hostAddress"`
		RemoteUsername        string `json:"remoteUsername"`
		LocalScriptPath       string `json:"localScriptPath"`
		PrivateKeyPath        string `json:"privateKeyPath"`
		PrivateKeyPassphrase  string `json:"privateKeyPassphrase"`
		ServerIP              string `json:"serverIp"`
		ServerUsername        string `json:"serverUsername"`
		ShellScriptFilepath   string `json:"shellScriptFilepath"`
		PrivateKeyPemFilepath string `json:"privateKeyPemFilepath"`
		PemFilePassword       string `json:"pemFilePassword"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	c.HostAddress = firstNonEmpty(aux.HostAddress, aux.ServerIP)
	c.RemoteUsername = firstNonEmpty(aux.RemoteUsername, aux.ServerUsername)
	c.LocalScriptPath = firstNonEmpty(aux.LocalScriptPath, aux.ShellScriptFilepath)
	c.PrivateKeyPath = firstNonEmpty(aux.PrivateKeyPath, aux.PrivateKeyPemFilepath)
	c.PrivateKeyPassphrase = firstNonEmpty(aux.PrivateKeyPassphrase, aux.PemFilePassword)
	return nil
}

// HTTPConfig describes one HTTP call. StatusCode and StatusMessage are
// filled in by the executor; StatusCode -1 means the request never produced
// an HTTP status.
type HTTPConfig struct {
	URL           string            `json:"url" validate:"required"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          json.RawMessage   `json:"body,omitempty"`
	StatusCode    int               `json:"statusCode,omitempty"`
	StatusMessage string            `json:"statusMessage,omitempty"`
}

func (*HTTPConfig) Kind() Kind { return KindHTTP }

// RequestMethod returns the upper-cased method, GET when unset.
func (c *HTTPConfig) RequestMethod() string {
	m := strings.ToUpper(strings.TrimSpace(c.Method))
	if m == "" {
		return "GET"
	}
	return m
}

// HasBody reports whether the method carries a request payload.
func (c *HTTPConfig) HasBody() bool {
	switch c.RequestMethod() {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// Payload returns the bytes to send. A JSON string body is sent as its raw
// text; any other JSON value is sent as encoded.
func (c *HTTPConfig) Payload() ([]byte, error) {
	if len(c.Body) == 0 {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(c.Body))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(c.Body, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	if !json.Valid(c.Body) {
		return nil, errors.New("body is not valid JSON")
	}
	return []byte(trimmed), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
