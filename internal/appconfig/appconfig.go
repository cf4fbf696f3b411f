package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rebel-tools/groupsync/models"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v2"
)

const (
	DatastoreActionNetwork = "actionNetwork"

	DefaultActionNetworkURL = "https://actionnetwork.org/api/v2/"
	DefaultMaxAttempts      = 5
	DefaultColeadField      = "co-lead"

	SummaryText = "text"
	SummaryHTML = "html"
)

// Config holds all configuration details. It is read once and treated as
// read-only for the rest of the run.
type Config struct {
	MasterGroupName        string             `yaml:"masterGroupName"`
	MasterGroupCredentials models.Credentials `yaml:"masterGroupCredentials"`
	MasterGroupColeads     []ContactConfig    `yaml:"masterGroupColeads" validate:"dive"`
	MasterGroupEmail       string             `yaml:"masterGroupEmail" validate:"omitempty,email"`

	WorkingGroups map[string]WorkingGroupConfig `yaml:"workingGroups"`
	Subgroups     map[string]SubgroupConfig     `yaml:"subgroups"`

	Datastore     string              `yaml:"datastore" validate:"oneof=actionNetwork"`
	ActionNetwork ActionNetworkConfig `yaml:"actionNetwork"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency"`

	DefaultFirstName string `yaml:"defaultFirstName"`
	DefaultSurname   string `yaml:"defaultSurname"`

	BotEmail             BotEmailConfig `yaml:"botEmail"`
	SubGroupShepherd     ContactConfig  `yaml:"subGroupShepherd"`
	SubgroupWelcomeEmail string         `yaml:"subgroupWelcomeEmail"`
	ColeadSummaryFormat  string         `yaml:"coleadSummaryFormat" validate:"oneof=text html"`

	// Silent suppresses every outbound email. Set from the command line.
	Silent bool `yaml:"-"`
}

// WorkingGroupConfig is one entry of the workingGroups map.
type WorkingGroupConfig struct {
	Name                  string             `yaml:"name" validate:"required"`
	Credentials           models.Credentials `yaml:"credentials" validate:"required"`
	Coleads               []ContactConfig    `yaml:"coleads" validate:"dive"`
	WelcomeEmail          string             `yaml:"welcomeEmail"`
	WelcomeEmailNoColeads string             `yaml:"welcomeEmailNoColeads"`
}

// SubgroupConfig is one entry of the subgroups map.
type SubgroupConfig struct {
	Name        string             `yaml:"name" validate:"required"`
	Credentials models.Credentials `yaml:"credentials" validate:"required"`
	Description string             `yaml:"description" validate:"required"`
	Coleads     []ContactConfig    `yaml:"coleads" validate:"dive"`
}

// ContactConfig names a colead or the subgroup shepherd.
type ContactConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email" validate:"omitempty,email"`
}

// BotEmailConfig defines the account notifications are sent from.
type BotEmailConfig struct {
	Service string `yaml:"service"`
	Address string `yaml:"address" validate:"omitempty,email"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Region  string `yaml:"region"`
}

// ActionNetworkConfig tunes the Action Network backend.
type ActionNetworkConfig struct {
	BaseURL      string `yaml:"baseURL" validate:"url"`
	MaxAttempts  int    `yaml:"maxAttempts" validate:"gte=1"`
	RetryDelayMs int    `yaml:"retryDelayMs" validate:"gte=0"`
	ColeadField  string `yaml:"coleadField"`
	ColeadTag    string `yaml:"coleadTag"`
}

// RetryDelay is the pause between two signup attempts for the same person.
func (c ActionNetworkConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ConcurrencyConfig bounds how many groups resolve at once. Zero means no limit.
type ConcurrencyConfig struct {
	Groups int `yaml:"groups" validate:"gte=0"`
}

// NameDefaults returns the fallbacks used for people without a full name.
func (c *Config) NameDefaults() models.NameDefaults {
	return models.NameDefaults{FirstName: c.DefaultFirstName, Surname: c.DefaultSurname}
}

// HasMasterGroup reports whether an organisation wide group is configured.
func (c *Config) HasMasterGroup() bool {
	return c.MasterGroupName != "" && len(c.MasterGroupCredentials) > 0
}

// ApplyDefaults fills in every optional setting left empty.
func (c *Config) ApplyDefaults() {
	if c.Datastore == "" {
		c.Datastore = DatastoreActionNetwork
	}
	if c.ActionNetwork.BaseURL == "" {
		c.ActionNetwork.BaseURL = DefaultActionNetworkURL
	}
	if c.ActionNetwork.MaxAttempts == 0 {
		c.ActionNetwork.MaxAttempts = DefaultMaxAttempts
	}
	if c.ActionNetwork.ColeadField == "" && c.ActionNetwork.ColeadTag == "" {
		c.ActionNetwork.ColeadField = DefaultColeadField
	}
	if c.ColeadSummaryFormat == "" {
		c.ColeadSummaryFormat = SummaryText
	}
}

var validate = validator.New()

// Validate checks the top level settings. Group maps are not descended into:
// each definition is checked when the groups are loaded so that one bad group
// does not stop the run.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidateGroup checks a single working group or subgroup definition.
func ValidateGroup(def any) error {
	return validate.Struct(def)
}

// LoadConfig loads and parses the configuration from a given file path. The
// file is expanded as a template over the environment first, so secrets can
// be written as {{ .ACTION_NETWORK_KEY }}.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is required")
	}

	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=zero").ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, loadEnvVars()); err != nil {
		return nil, fmt.Errorf("error executing config file template: %w", err)
	}

	data := buf.Bytes()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc", ".hujson":
		if data, err = hujson.Standardize(data); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadEnvVars loads environment variables into a map
func loadEnvVars() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		kv := strings.SplitN(env, "=", 2)
		if len(kv) == 2 {
			envVars[kv[0]] = kv[1]
		}
	}
	return envVars
}
