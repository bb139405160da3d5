package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"syndrodm/src/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 8080
  auth:
    enabled: true
    users:
      - username: admin
        password: secret
driver:
  kind: file
  data_dir: /tmp/data
  mongo:
    connect_timeout: 3s
populate:
  drop_unresolved: true
collections:
  widgets:
    _id: id
    name: {type: string, required: true}
    color: {type: string, enum: [red, green, blue]}
  users:
    _id: id
    name: string
    favourite: {type: reference, ref: widgets}
    wishlist: {type: array, items: {type: reference, ref: widgets}}
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "$populate", c.Server.Remap["populate"])
	assert.True(t, c.Server.Auth.Enabled)
	assert.Equal(t, "secret", c.Server.Auth.Users[0].Password)
	assert.Equal(t, DriverFile, c.Driver.Kind)
	assert.Equal(t, 3*time.Second, c.Driver.Mongo.ConnectTimeout)
	assert.EqualValues(t, 5, c.Driver.Mongo.MaxRetries)
	assert.True(t, c.Populate.DropUnresolved)
	assert.Equal(t, 8, c.Populate.Depth)
	assert.Equal(t, []string{"users", "widgets"}, c.CollectionNames())
}

func TestConfigRegistry(t *testing.T) {
	c, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	r, err := c.Registry()
	require.NoError(t, err)
	users, err := r.Resolve("users")
	require.NoError(t, err)

	fks, err := users.ForeignKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"favourite", "wishlist"}, fks.Paths())
	assert.Equal(t, schema.KindReferenceArray, fks["wishlist"].Kind)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"driver", "driver: {kind: postgres}"},
		{"port", "server: {port: 70000}"},
		{"syntax", "server: [1"},
		{"user", "server: {auth: {users: [{password: x}]}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigAndArguments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syndrodm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: {kind: memory}\n"), 0644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	c.ApplyArguments(&Arguments{Port: 9000, Driver: DriverMongo, AuthEnabled: true})
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, DriverMongo, c.Driver.Kind)
	assert.True(t, c.Server.Auth.Enabled)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigClone(t *testing.T) {
	c, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	clone, err := c.Clone()
	require.NoError(t, err)
	clone.Server.Remap["populate"] = "$other"
	clone.Server.Auth.Users[0].Password = "changed"

	assert.Equal(t, "$populate", c.Server.Remap["populate"])
	assert.Equal(t, "secret", c.Server.Auth.Users[0].Password)
	assert.Equal(t, c.CollectionNames(), clone.CollectionNames())
}

func TestGetSettingsIsShared(t *testing.T) {
	assert.Same(t, GetSettings(), GetSettings())
}
