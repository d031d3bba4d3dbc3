package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	PolicyPath   string `envconfig:"POLICY_PATH" default:""`

	// Session settings
	MaxSessions        int    `envconfig:"MAX_SESSIONS" default:"10"`
	SessionIdleTimeout string `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	OutputBufferSize   int    `envconfig:"OUTPUT_BUFFER_SIZE" default:"1000"`

	// Command execution settings
	DefaultCommandTimeoutMs int `envconfig:"DEFAULT_COMMAND_TIMEOUT_MS" default:"30000"`
	MaxCommandTimeoutMs     int `envconfig:"MAX_COMMAND_TIMEOUT_MS" default:"300000"`

	// Event streaming settings
	EventBufferSize int `envconfig:"EVENT_BUFFER_SIZE" default:"256"`

	// Audit settings
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"30"`
	AuditPurgeSchedule string `envconfig:"AUDIT_PURGE_SCHEDULE" default:"0 3 * * *"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("RUNBOX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
