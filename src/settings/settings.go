// Package settings holds the command line arguments and the YAML
// configuration: server and driver settings plus the collection schemas.
package settings

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"syndrodm/src/schema"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"
)

type Arguments struct {
	// The file path to the datafiles
	DataDir string

	ConfigFile string

	// memory, file or mongo
	Driver string

	// the host name or IP address to listen on
	Host string

	// the port number to listen on
	Port int

	// Strongly verbose logging
	Verbose bool
	Debug   bool

	AuthEnabled bool // Enable authentication
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the process wide arguments.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{}
	})
	return instance
}

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverMongo  = "mongo"
)

type Config struct {
	Server      ServerConfig                 `yaml:"server"`
	Driver      DriverConfig                 `yaml:"driver"`
	Populate    PopulateConfig               `yaml:"populate"`
	Schema      SchemaConfig                 `yaml:"schema"`
	Collections map[string]schema.FieldSpecs `yaml:"collections"`
}

type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
	// Gzip compresses responses.
	Gzip bool `yaml:"gzip"`
	// Remap renames query parameters to descriptor keys, e.g. populate: $populate.
	Remap map[string]string `yaml:"remap"`
	Auth  AuthConfig        `yaml:"auth"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// UsersFile persists the user store, encrypted with Key.
	UsersFile string       `yaml:"users_file"`
	Key       string       `yaml:"key"`
	Users     []UserConfig `yaml:"users"`
}

type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DriverConfig struct {
	Kind    string      `yaml:"kind"`
	DataDir string      `yaml:"data_dir"`
	Mongo   MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxRetries     uint64        `yaml:"max_retries"`
}

type PopulateConfig struct {
	DropUnresolved bool `yaml:"drop_unresolved"`
	Depth          int  `yaml:"depth"`
}

type SchemaConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// DefaultRemap maps the REST query parameters onto descriptor directives.
func DefaultRemap() map[string]string {
	return map[string]string{
		"populate":       "$populate",
		"sort":           "$sort",
		"limit":          "$limit",
		"skip":           "$skip",
		"select":         "$select",
		"single":         "$single",
		"count":          "$count",
		"ignoreNotFound": "$ignoreNotFound",
	}
}

// LoadConfig reads and validates a YAML config file. Unset values get their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1776
	}
	if c.Server.Remap == nil {
		c.Server.Remap = DefaultRemap()
	}
	if c.Driver.Kind == "" {
		c.Driver.Kind = DriverMemory
	}
	if c.Driver.DataDir == "" {
		c.Driver.DataDir = "./datafiles"
	}
	if c.Driver.Mongo.URI == "" {
		c.Driver.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Driver.Mongo.Database == "" {
		c.Driver.Mongo.Database = "syndrodm"
	}
	if c.Driver.Mongo.ConnectTimeout == 0 {
		c.Driver.Mongo.ConnectTimeout = 10 * time.Second
	}
	if c.Driver.Mongo.MaxRetries == 0 {
		c.Driver.Mongo.MaxRetries = 5
	}
	if c.Populate.Depth == 0 {
		c.Populate.Depth = 8
	}
	if c.Schema.MaxDepth == 0 {
		c.Schema.MaxDepth = schema.DefaultMaxDepth
	}
}

func (c *Config) Validate() error {
	switch c.Driver.Kind {
	case DriverMemory, DriverFile, DriverMongo:
	default:
		return fmt.Errorf("invalid driver kind: %s (must be memory, file or mongo)", c.Driver.Kind)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Populate.Depth < 0 {
		return fmt.Errorf("invalid populate depth: %d", c.Populate.Depth)
	}
	for _, u := range c.Server.Auth.Users {
		if u.Username == "" {
			return fmt.Errorf("auth user without username")
		}
	}
	return nil
}

// ApplyArguments lets command line values override the file.
func (c *Config) ApplyArguments(a *Arguments) {
	if a.Host != "" {
		c.Server.Host = a.Host
	}
	if a.Port != 0 {
		c.Server.Port = a.Port
	}
	if a.Driver != "" {
		c.Driver.Kind = a.Driver
	}
	if a.DataDir != "" {
		c.Driver.DataDir = a.DataDir
	}
	if a.Debug {
		c.Server.Debug = true
	}
	if a.AuthEnabled {
		c.Server.Auth.Enabled = true
	}
}

// CollectionNames returns the declared collections, sorted.
func (c *Config) CollectionNames() []string {
	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry declares every configured collection in a new registry.
func (c *Config) Registry() (*schema.Registry, error) {
	r := schema.NewRegistry(schema.WithMaxDepth(c.Schema.MaxDepth))
	for _, name := range c.CollectionNames() {
		if _, err := r.DeclareSpec(name, c.Collections[name]); err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
	}
	return r, nil
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() (*Config, error) {
	clone := &Config{}
	if err := deepcopy.Copy(clone, c); err != nil {
		return nil, fmt.Errorf("failed to copy config: %w", err)
	}
	return clone, nil
}
