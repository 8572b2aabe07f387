// Package config loads the engine configuration from a YAML file, a .env
// file and MAPFLOW_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sourceplane/mapflow/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. MAPFLOW_WORK_DIR.
const EnvPrefix = "MAPFLOW"

// DefaultFile is read when no config file is given and it exists.
const DefaultFile = "mapflow.yaml"

type Config struct {
	WorkDir    string `mapstructure:"work_dir" validate:"required"`
	MapFileDir string `mapstructure:"mapfile_dir" validate:"required"`
	StateDir   string `mapstructure:"state_dir" validate:"required"`
	ScriptDir  string `mapstructure:"script_dir" validate:"required"`

	Log     logging.Config `mapstructure:"log"`
	Recipes RecipesConfig  `mapstructure:"recipes"`
	Cluster ClusterConfig  `mapstructure:"cluster"`
	Runner  RunnerConfig   `mapstructure:"runner"`
}

type RecipesConfig struct {
	Casapy CasapyConfig `mapstructure:"casapy"`
}

// CasapyConfig is the command line used for casapy steps that do not
// override it.
type CasapyConfig struct {
	Executable string   `mapstructure:"executable" validate:"required"`
	Arguments  []string `mapstructure:"arguments"`
}

type ClusterConfig struct {
	Nodes []string `mapstructure:"nodes" validate:"min=1,dive,required"`
	// Launcher prefixes every command; "{node}" is replaced by the target
	// node. Empty runs commands locally.
	Launcher []string `mapstructure:"launcher"`
	DryRun   bool     `mapstructure:"dry_run"`
}

type RunnerConfig struct {
	AbortStepOnUnitFailure bool          `mapstructure:"abort_step_on_unit_failure"`
	UnitTimeout            time.Duration `mapstructure:"unit_timeout" validate:"gte=0s"`
	// Resume names a previous run to continue.
	Resume string `mapstructure:"resume"`
}

// Options selects the files Load reads.
type Options struct {
	// ConfigFile is read when set and must exist. Otherwise DefaultFile is
	// read if present.
	ConfigFile string
	// EnvFile is loaded into the environment when set and must exist.
	// Otherwise .env is loaded if present.
	EnvFile string
}

// Load reads the configuration, applies defaults and validates it.
func Load(opts Options) (*Config, error) {
	if err := loadEnv(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := opts.ConfigFile
	if file == "" && exists(DefaultFile) {
		file = DefaultFile
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", "./work")
	// Empty directory defaults are derived from work_dir after decoding.
	v.SetDefault("mapfile_dir", "")
	v.SetDefault("state_dir", "")
	v.SetDefault("script_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.no_color", false)
	v.SetDefault("recipes.casapy.executable", "casapy")
	v.SetDefault("recipes.casapy.arguments", []string{"--nologger", "--log2term", "--nogui", "-c"})
	v.SetDefault("cluster.nodes", []string{"localhost"})
	v.SetDefault("cluster.launcher", []string{})
	v.SetDefault("cluster.dry_run", false)
	v.SetDefault("runner.abort_step_on_unit_failure", false)
	v.SetDefault("runner.unit_timeout", "0s")
	v.SetDefault("runner.resume", "")
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = "./work"
	}
	if c.MapFileDir == "" {
		c.MapFileDir = filepath.Join(c.WorkDir, "mapfiles")
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.WorkDir, "state")
	}
	if c.ScriptDir == "" {
		c.ScriptDir = filepath.Join(c.WorkDir, "scripts")
	}
	c.Log.ApplyDefaults()
	if c.Recipes.Casapy.Executable == "" {
		c.Recipes.Casapy.Executable = "casapy"
	}
	if c.Recipes.Casapy.Arguments == nil {
		c.Recipes.Casapy.Arguments = []string{"--nologger", "--log2term", "--nogui", "-c"}
	}
	if len(c.Cluster.Nodes) == 0 {
		c.Cluster.Nodes = []string{"localhost"}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and reports every violated field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func loadEnv(path string) error {
	if path == "" {
		if !exists(".env") {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
