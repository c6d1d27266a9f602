package config

import (
	"time"

	"github.com/openfroyo/policyforge/pkg/telemetry"
)

// Config is the complete policyforge configuration.
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	Compliance  ComplianceConfig  `mapstructure:"compliance"`
	Drift       DriftConfig       `mapstructure:"drift"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	SSH         SSHConfig         `mapstructure:"ssh"`
	History     HistoryConfig     `mapstructure:"history"`
	Backup      BackupConfig      `mapstructure:"backup"`
	Lock        LockConfig        `mapstructure:"lock"`
	Telemetry   telemetry.Config  `mapstructure:"telemetry"`
}

// EngineConfig holds settings shared by every operation.
type EngineConfig struct {
	// MaxConcurrent bounds how many hosts are processed at once.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=1,lte=1000"`

	// StrictMode turns validation warnings into errors.
	StrictMode bool `mapstructure:"strict_mode"`

	// SourceProtection enables the built-in domain extension rules.
	SourceProtection bool `mapstructure:"source_protection"`
}

type ComplianceConfig struct {
	Frameworks        []string `mapstructure:"frameworks" validate:"dive,oneof=nist_800_53 disa_stig iec_62443 nerc_cip"`
	SeverityThreshold string   `mapstructure:"severity_threshold" validate:"omitempty,oneof=critical high medium low"`
}

type DriftConfig struct {
	// Threshold is a percentage; drift is reported only above it.
	Threshold     float64 `mapstructure:"threshold" validate:"gte=0,lte=100"`
	AlertOnDrift  bool    `mapstructure:"alert_on_drift"`
	RetentionDays int     `mapstructure:"retention_days" validate:"gte=1"`
}

type RemediationConfig struct {
	Mode                     string        `mapstructure:"mode" validate:"oneof=auto semi_auto manual"`
	BackupBeforeRemediation  bool          `mapstructure:"backup_before_remediation"`
	ValidateAfterRemediation bool          `mapstructure:"validate_after_remediation"`
	RequireApproval          bool          `mapstructure:"require_approval"`
	ScriptDir                string        `mapstructure:"script_dir"`
	ScriptTimeout            time.Duration `mapstructure:"script_timeout" validate:"gte=0"`
}

type EnforcementConfig struct {
	Mode               string `mapstructure:"mode" validate:"oneof=apply dry_run validate_only"`
	Backup             bool   `mapstructure:"backup"`
	RollbackOnFailure  bool   `mapstructure:"rollback_on_failure"`
	ValidationRequired bool   `mapstructure:"validation_required"`
	ApprovalRequired   bool   `mapstructure:"approval_required"`
}

// ExecutorConfig selects how checks reach targets.
type ExecutorConfig struct {
	// Type is "state" for a facts file or "ssh" for live hosts.
	Type string `mapstructure:"type" validate:"oneof=state ssh"`

	// StateFile is the facts file of the state executor.
	StateFile string `mapstructure:"state_file" validate:"required_if=Type state"`

	Timeout       time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=0"`
}

type SSHConfig struct {
	User                  string        `mapstructure:"user" validate:"required_if=AuthMethod password"`
	Port                  int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	AuthMethod            string        `mapstructure:"auth_method" validate:"oneof=password key"`
	Password              string        `mapstructure:"password"`
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	KnownHostsPath        string        `mapstructure:"known_hosts_path"`
	StrictHostKeyChecking bool          `mapstructure:"strict_host_key_checking"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout" validate:"gte=0"`
	CommandTimeout        time.Duration `mapstructure:"command_timeout" validate:"gte=0"`
	KeepAliveInterval     time.Duration `mapstructure:"keep_alive_interval" validate:"gte=0"`

	// ConfigFile is read and edited over SFTP on hosts without a config
	// command. ReloadCommand runs after each edit when set.
	ConfigFile    string `mapstructure:"config_file"`
	ReloadCommand string `mapstructure:"reload_command"`
}

type HistoryConfig struct {
	Backend      string `mapstructure:"backend" validate:"oneof=file sqlite"`
	Dir          string `mapstructure:"dir" validate:"required_if=Backend file"`
	DatabasePath string `mapstructure:"database_path" validate:"required_if=Backend sqlite"`
}

type BackupConfig struct {
	Backend string         `mapstructure:"backend" validate:"oneof=file s3"`
	Dir     string         `mapstructure:"dir" validate:"required_if=Backend file"`
	S3      S3BackupConfig `mapstructure:"s3"`
}

type S3BackupConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

type LockConfig struct {
	Backend string          `mapstructure:"backend" validate:"oneof=local redis"`
	Redis   RedisLockConfig `mapstructure:"redis"`
}

type RedisLockConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db" validate:"gte=0"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrent: 5,
		},
		Compliance: ComplianceConfig{
			Frameworks: []string{"nist_800_53", "disa_stig"},
		},
		Drift: DriftConfig{
			Threshold:     5.0,
			AlertOnDrift:  true,
			RetentionDays: 90,
		},
		Remediation: RemediationConfig{
			Mode:                     "semi_auto",
			BackupBeforeRemediation:  true,
			ValidateAfterRemediation: true,
			RequireApproval:          true,
			ScriptDir:                "scripts",
			ScriptTimeout:            30 * time.Second,
		},
		Enforcement: EnforcementConfig{
			Mode:               "dry_run",
			Backup:             true,
			RollbackOnFailure:  true,
			ValidationRequired: true,
			ApprovalRequired:   true,
		},
		Executor: ExecutorConfig{
			Type:      "state",
			StateFile: "state.yaml",
			Timeout:   30 * time.Second,
		},
		SSH: SSHConfig{
			Port:                  22,
			AuthMethod:            "key",
			StrictHostKeyChecking: true,
			ConnectionTimeout:     30 * time.Second,
			CommandTimeout:        5 * time.Minute,
			ConfigFile:            "/etc/ssh/sshd_config",
		},
		History: HistoryConfig{
			Backend:      "file",
			Dir:          "drift_history",
			DatabasePath: "policyforge.db",
		},
		Backup: BackupConfig{
			Backend: "file",
			Dir:     "backups",
		},
		Lock: LockConfig{
			Backend: "local",
			Redis: RedisLockConfig{
				Addr:          "localhost:6379",
				Prefix:        "policyforge:lock:",
				TTL:           30 * time.Second,
				RetryInterval: 200 * time.Millisecond,
			},
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}
