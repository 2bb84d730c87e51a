package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for program configuration
const (
	DefaultStride        = 4
	DefaultAnchorFrame   = 1
	DefaultGroupSize     = 1024 // slide units per group
	DefaultMaxScenes     = 16
	DefaultNodeWorkers   = 8
	DefaultMaskGain      = 4.0
	DefaultWarpStep      = 1
	DefaultSceneThresh   = 0.3
	DefaultPollInterval  = time.Second
	DefaultSettleDelay   = time.Second
	DefaultMaxWait       = 30 * time.Minute
	DefaultSubmitTimeout = 30 * time.Second
)

// ErrInvalidConfig is returned by Validate for any rejected setting.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything a restyle run needs.
type Config struct {
	// WorkDir holds in/, interp/ and out/.
	WorkDir   string `yaml:"work_dir"`
	Extension string `yaml:"extension"`

	Stride      int `yaml:"stride"`
	AnchorFrame int `yaml:"anchor_frame"`
	GroupSize   int `yaml:"group_size"`
	WarpStep    int `yaml:"warp_step"`

	MaxScenes   int `yaml:"max_scenes"`
	NodeWorkers int `yaml:"node_workers"`

	MaskGain       float64 `yaml:"mask_gain"`
	SceneThreshold float64 `yaml:"scene_threshold"`
	// SceneCache defaults to interp/scenes.json.
	SceneCache string `yaml:"scene_cache"`

	Prompt       string `yaml:"prompt"`
	AnchorPrompt string `yaml:"anchor_prompt"`

	Backends BackendConfig `yaml:"backends"`
	Tools    ToolConfig    `yaml:"tools"`
	Ledger   LedgerConfig  `yaml:"ledger"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// BackendConfig describes the generation backends and how jobs are awaited.
type BackendConfig struct {
	Endpoints []string `yaml:"endpoints"`
	// OutputDir is the directory the backends write their images into.
	OutputDir     string        `yaml:"output_dir"`
	OutputSubdir  string        `yaml:"output_subdir"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	MaxWait       time.Duration `yaml:"max_wait"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	Probe         bool          `yaml:"probe"`
}

// ToolConfig names the external executables.
type ToolConfig struct {
	FFmpeg         string `yaml:"ffmpeg"`
	MotionTransfer string `yaml:"motion_transfer"`
}

// LedgerConfig selects where completed slides are recorded.
type LedgerConfig struct {
	// Driver is "file", "postgres" or "none".
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// ConnString builds a pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.DBName)
}

// Default returns a Config populated with the default values.
func Default() *Config {
	return &Config{
		WorkDir:        ".",
		Extension:      "png",
		Stride:         DefaultStride,
		AnchorFrame:    DefaultAnchorFrame,
		GroupSize:      DefaultGroupSize,
		WarpStep:       DefaultWarpStep,
		MaxScenes:      DefaultMaxScenes,
		NodeWorkers:    DefaultNodeWorkers,
		MaskGain:       DefaultMaskGain,
		SceneThreshold: DefaultSceneThresh,
		Prompt:         "restyle.json",
		Backends: BackendConfig{
			Endpoints:     []string{"http://127.0.0.1:7821"},
			OutputDir:     "output",
			OutputSubdir:  "stable-restyle-out",
			PollInterval:  DefaultPollInterval,
			SettleDelay:   DefaultSettleDelay,
			MaxWait:       DefaultMaxWait,
			SubmitTimeout: DefaultSubmitTimeout,
		},
		Tools: ToolConfig{
			FFmpeg:         "ffmpeg",
			MotionTransfer: "./motion-transfer/motion-transfer",
		},
		Ledger: LedgerConfig{
			Driver: "file",
			Postgres: PostgresConfig{
				Host: "localhost",
				Port: "5432",
			},
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return cfg, nil
}

// AnchorPromptPath returns the template used for anchors, falling back to Prompt.
func (c *Config) AnchorPromptPath() string {
	if c.AnchorPrompt != "" {
		return c.AnchorPrompt
	}
	return c.Prompt
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Stride < 1:
		return fmt.Errorf("%w: stride must be >= 1, got %d", ErrInvalidConfig, c.Stride)
	case c.AnchorFrame < 1:
		return fmt.Errorf("%w: anchor_frame must be >= 1, got %d", ErrInvalidConfig, c.AnchorFrame)
	case c.GroupSize < 2:
		return fmt.Errorf("%w: group_size must be >= 2, got %d", ErrInvalidConfig, c.GroupSize)
	case c.WarpStep < 1:
		return fmt.Errorf("%w: warp_step must be >= 1, got %d", ErrInvalidConfig, c.WarpStep)
	case c.MaxScenes < 1:
		return fmt.Errorf("%w: max_scenes must be >= 1, got %d", ErrInvalidConfig, c.MaxScenes)
	case c.NodeWorkers < 1:
		return fmt.Errorf("%w: node_workers must be >= 1, got %d", ErrInvalidConfig, c.NodeWorkers)
	case c.MaskGain <= 0:
		return fmt.Errorf("%w: mask_gain must be > 0, got %g", ErrInvalidConfig, c.MaskGain)
	case c.SceneThreshold <= 0 || c.SceneThreshold >= 1:
		return fmt.Errorf("%w: scene_threshold must be in (0,1), got %g", ErrInvalidConfig, c.SceneThreshold)
	case c.Prompt == "":
		return fmt.Errorf("%w: prompt template is required", ErrInvalidConfig)
	case len(c.Backends.Endpoints) == 0:
		return fmt.Errorf("%w: at least one backend endpoint is required", ErrInvalidConfig)
	case c.Backends.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval must be > 0", ErrInvalidConfig)
	case c.Backends.SettleDelay < 0 || c.Backends.MaxWait < 0:
		return fmt.Errorf("%w: settle_delay and max_wait must be >= 0", ErrInvalidConfig)
	}

	switch c.Ledger.Driver {
	case "file", "postgres", "none":
	default:
		return fmt.Errorf("%w: unknown ledger driver %q", ErrInvalidConfig, c.Ledger.Driver)
	}
	return nil
}
