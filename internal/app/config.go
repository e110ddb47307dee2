package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cluster status watchers.
const (
	StatusMarker   = "marker"
	StatusSocketIO = "socketio"
)

// S3Config locates the bucket the stats report is uploaded to.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Key is the object key. Defaults to the stats file's base name.
	Key string
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	RuleFile  string // .hcl file or directory, or .yaml/.yml file
	Targets   []string
	Directory string

	Jobs           int
	DryRun         bool
	Touch          bool
	Quiet          bool
	PrintShellCmds bool
	JobTimeout     time.Duration

	Force           bool
	ForceAll        bool
	ForceRules      []string
	IgnoreAmbiguity bool

	Cluster          string // submit command template; empty runs locally
	ClusterStatus    string
	ClusterStatusURL string
	ClusterTimeout   time.Duration

	Stats   string
	StatsS3 *S3Config

	List   bool
	Reason bool
	Dag    bool

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.RuleFile == "" {
		return nil, errors.New("RuleFile is a required configuration field and cannot be empty")
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	if cfg.DryRun && cfg.Touch {
		return nil, errors.New("dry run and touch modes are mutually exclusive")
	}

	cfg.ClusterStatus = strings.ToLower(strings.TrimSpace(cfg.ClusterStatus))
	switch cfg.ClusterStatus {
	case "":
		cfg.ClusterStatus = StatusMarker
	case StatusMarker:
	case StatusSocketIO:
		if cfg.ClusterStatusURL == "" {
			return nil, errors.New("socketio cluster status requires a status URL")
		}
	default:
		return nil, fmt.Errorf("invalid cluster status %q: must be %q or %q", cfg.ClusterStatus, StatusMarker, StatusSocketIO)
	}

	if cfg.StatsS3 != nil && cfg.Stats == "" {
		return nil, errors.New("uploading stats requires a stats file")
	}
	if cfg.JobTimeout < 0 || cfg.ClusterTimeout < 0 {
		return nil, errors.New("timeouts must not be negative")
	}

	return &cfg, nil
}
