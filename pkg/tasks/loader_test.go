package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "pre": [
    {"type": "db", "config": {"connectionUrl": "sqlite://app.db", "scriptPath": "/tmp/a.sql"}},
    {"type": "shell", "config": {"hostAddress": "10.0.0.1", "remoteUsername": "ops",
      "localScriptPath": "/tmp/a.sh", "privateKeyPath": "/tmp/id", "privateKeyPassphrase": "pw"}},
    {"type": "api", "config": {"url": "http://localhost/x", "method": "post",
      "headers": {"X-Token": "t"}, "body": {"k": 1}}}
  ],
  "post": [
    {"type": "ftp", "config": {}}
  ],
  "meta": "not a phase"
}`

func TestPhasePreservesOrder(t *testing.T) {
	list, err := LoadPhase([]byte(sampleDoc), "pre")
	require.NoError(t, err)
	require.Len(t, list, 3)

	db, ok := list[0].Config.(*DatabaseConfig)
	require.True(t, ok)
	assert.Equal(t, 1, list[0].Index)
	assert.Equal(t, "sqlite://app.db", db.ConnectionURL)

	sh, ok := list[1].Config.(*ShellConfig)
	require.True(t, ok)
	assert.Equal(t, "pw", sh.PrivateKeyPassphrase)

	api, ok := list[2].Config.(*HTTPConfig)
	require.True(t, ok)
	assert.Equal(t, 3, list[2].Index)
	assert.Equal(t, "POST", api.RequestMethod())
	assert.True(t, api.HasBody())
	assert.Equal(t, "t", api.Headers["X-Token"])
}

func TestPhaseAbsentOrNotArrayIsEmpty(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDoc))
	require.NoError(t, err)

	for _, phase := range []string{"basic", "meta"} {
		list, err := doc.Phase(phase)
		assert.NoError(t, err, phase)
		assert.Empty(t, list, phase)
	}
	assert.Equal(t, []string{"post", "pre"}, doc.Phases())
	assert.True(t, doc.Has("meta"))
}

func TestPhaseKeepsUnknownType(t *testing.T) {
	list, err := LoadPhase([]byte(sampleDoc), "post")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Known())
	assert.Equal(t, "ftp", list[0].Type)
}

func TestPhaseRejectsMalformedTasks(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing type", `{"pre":[{"config":{}}]}`},
		{"empty type", `{"pre":[{"type":"","config":{}}]}`},
		{"missing config", `{"pre":[{"type":"db"}]}`},
		{"config not an object", `{"pre":[{"type":"api","config":"http://x"}]}`},
		{"wrong field type", `{"pre":[{"type":"db","config":{"connectionUrl":5,"scriptPath":"a.sql"}}]}`},
		{"task not an object", `{"pre":["db"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPhase([]byte(tt.doc), "pre")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedTask)
		})
	}
}

func TestPhaseLeavesEmptyFieldsToExecution(t *testing.T) {
	doc := `{"pre":[
	  {"type":"db","config":{"connectionUrl":"x.db"}},
	  {"type":"api","config":{}}
	]}`
	list, err := LoadPhase([]byte(doc), "pre")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "", list[0].Config.(*DatabaseConfig).ScriptPath)
	assert.Equal(t, "", list[1].Config.(*HTTPConfig).URL)

	parsed, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	err = parsed.Validate()
	assert.ErrorIs(t, err, ErrMalformedTask)
	assert.Contains(t, err.Error(), "db config missing required field(s): scriptPath")
	assert.Contains(t, err.Error(), "api config missing required field(s): url")
}

func TestTypeMatchesExactly(t *testing.T) {
	list, err := LoadPhase([]byte(`{"pre":[{"type":"DB","config":{}},{"type":" api","config":{}}]}`), "pre")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[0].Known())
	assert.Equal(t, "DB", list[0].Type)
	assert.False(t, list[1].Known())
}

func TestParseDocumentRejectsNonObject(t *testing.T) {
	for _, doc := range []string{"", "[]", "not json", `{"pre": [}`} {
		_, err := ParseDocument([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestLegacyFieldNames(t *testing.T) {
	doc := `{"pre":[
	  {"type":"db","config":{"dbUrl":"postgres://db/app","dbUsername":"u","dbPassword":"p","sqlFilepath":"x.sql"}},
	  {"type":"shell","config":{"serverIp":"h","serverUsername":"u","shellScriptFilepath":"s.sh",
	    "privateKeyPemFilepath":"k.pem","PemFilePassword":"secret"}}
	]}`
	list, err := LoadPhase([]byte(doc), "pre")
	require.NoError(t, err)

	db := list[0].Config.(*DatabaseConfig)
	assert.Equal(t, DatabaseConfig{ConnectionURL: "postgres://db/app", Username: "u", Password: "p", ScriptPath: "x.sql"}, *db)

	sh := list[1].Config.(*ShellConfig)
	assert.Equal(t, "h", sh.HostAddress)
	assert.Equal(t, "k.pem", sh.PrivateKeyPath)
	assert.Equal(t, "secret", sh.PrivateKeyPassphrase)
}

func TestValidateReportsUnknownTypes(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDoc))
	require.NoError(t, err)
	err = doc.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTask)
	assert.Contains(t, err.Error(), `unknown task type "ftp"`)
}

func TestReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o600))

	doc, err := ReadDocument(path)
	require.NoError(t, err)
	assert.True(t, doc.Has("pre"))

	_, err = ReadDocument(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestHTTPPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"text passes through", `"a=1&b=2"`, "a=1&b=2"},
		{"object is encoded", `{"k": [1, 2]}`, `{"k": [1, 2]}`},
		{"no body", ``, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := HTTPConfig{Method: "POST", Body: []byte(tt.body)}
			got, err := cfg.Payload()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
