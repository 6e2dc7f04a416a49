// Package config loads agent and server configuration from built-in
// defaults, a YAML file, and environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/service_layer/internal/agent/filemonitor"
)

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

func defaultLogging(prefix string) LoggingConfig {
	return LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: prefix}
}

// FileMonitorConfig mirrors internal/agent/filemonitor.Config as a
// serializable, env-overridable configuration surface.
type FileMonitorConfig struct {
	Enabled                   bool     `json:"enabled" yaml:"enabled" env:"FILE_MONITOR_ENABLED"`
	WatchPaths                []string `json:"watch_paths" yaml:"watch_paths"`
	SensitiveDirectories      []string `json:"sensitive_directories" yaml:"sensitive_directories"`
	CloudSyncPaths            []string `json:"cloud_sync_paths" yaml:"cloud_sync_paths"`
	ComputeSha256ForSensitive bool     `json:"compute_sha256_for_sensitive" yaml:"compute_sha256_for_sensitive"`
	MonitorUsb                bool     `json:"monitor_usb" yaml:"monitor_usb"`
	MonitorNetworkShares      bool     `json:"monitor_network_shares" yaml:"monitor_network_shares"`
	ExcludedExtensions        []string `json:"excluded_extensions" yaml:"excluded_extensions"`
	ExcludedPaths             []string `json:"excluded_paths" yaml:"excluded_paths"`
	AutoWatchUserFolders      bool     `json:"auto_watch_user_folders" yaml:"auto_watch_user_folders"`
	InternalBufferSize        int      `json:"internal_buffer_size" yaml:"internal_buffer_size" env:"FILE_MONITOR_BUFFER_SIZE"`
	DriveScanIntervalSeconds  int      `json:"drive_scan_interval_seconds" yaml:"drive_scan_interval_seconds"`
}

// AppMonitorConfig mirrors internal/agent/appmonitor.Config.
type AppMonitorConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled" env:"APP_MONITOR_ENABLED"`
	PollingIntervalMs int      `json:"polling_interval_ms" yaml:"polling_interval_ms" env:"APP_MONITOR_POLL_MS"`
	ExcludedProcesses []string `json:"excluded_processes" yaml:"excluded_processes"`
}

// NetworkMonitorConfig mirrors internal/agent/networkmonitor.Config.
type NetworkMonitorConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled" env:"NETWORK_MONITOR_ENABLED"`
	PollingIntervalMs int      `json:"polling_interval_ms" yaml:"polling_interval_ms" env:"NETWORK_MONITOR_POLL_MS"`
	ExcludedProcesses []string `json:"excluded_processes" yaml:"excluded_processes"`
	PrivateSubnets    []string `json:"private_subnets" yaml:"private_subnets"`
}

// CorrelationConfig mirrors internal/agent/correlation.Config.
type CorrelationConfig struct {
	Enabled                           bool  `json:"enabled" yaml:"enabled" env:"CORRELATION_ENABLED"`
	LargeTransferThresholdBytes       int64 `json:"large_transfer_threshold_bytes" yaml:"large_transfer_threshold_bytes" env:"CORRELATION_LARGE_TRANSFER_BYTES"`
	ContinuousTransferThresholdBytes  int64 `json:"continuous_transfer_threshold_bytes" yaml:"continuous_transfer_threshold_bytes" env:"CORRELATION_CONTINUOUS_TRANSFER_BYTES"`
	ContinuousTransferWindowMinutes   int   `json:"continuous_transfer_window_minutes" yaml:"continuous_transfer_window_minutes" env:"CORRELATION_CONTINUOUS_WINDOW_MIN"`
	ProbableUploadThresholdBytes      int64 `json:"probable_upload_threshold_bytes" yaml:"probable_upload_threshold_bytes" env:"CORRELATION_PROBABLE_UPLOAD_BYTES"`
	ProbableUploadWindowSeconds       int   `json:"probable_upload_window_seconds" yaml:"probable_upload_window_seconds" env:"CORRELATION_PROBABLE_UPLOAD_WINDOW_SEC"`
}

// SecurityConfig controls spool encryption and local persistence paths.
type SecurityConfig struct {
	EncryptLocalQueue bool   `json:"encrypt_local_queue" yaml:"encrypt_local_queue" env:"SECURITY_ENCRYPT_LOCAL_QUEUE"`
	TamperDetection   bool   `json:"tamper_detection" yaml:"tamper_detection" env:"SECURITY_TAMPER_DETECTION"`
	LocalQueuePath    string `json:"local_queue_path" yaml:"local_queue_path" env:"SECURITY_LOCAL_QUEUE_PATH"`
	LocalLogPath      string `json:"local_log_path" yaml:"local_log_path" env:"SECURITY_LOCAL_LOG_PATH"`
	LogRetentionDays  int    `json:"log_retention_days" yaml:"log_retention_days" env:"SECURITY_LOG_RETENTION_DAYS"`
	// QueueSecret seeds the PBKDF2 key derivation for every spool segment.
	// Never logged; required unless EncryptLocalQueue is false.
	QueueSecret string `json:"-" yaml:"-" env:"SECURITY_QUEUE_SECRET"`
}

// AgentConfig is the root configuration for the endpoint agent.
type AgentConfig struct {
	DeviceID              string `json:"device_id" yaml:"device_id" env:"AGENT_DEVICE_ID"`
	ApiEndpoint           string `json:"api_endpoint" yaml:"api_endpoint" env:"AGENT_API_ENDPOINT"`
	ApiKey                string `json:"api_key" yaml:"api_key" env:"AGENT_API_KEY"`
	UploadIntervalSeconds int    `json:"upload_interval_seconds" yaml:"upload_interval_seconds" env:"AGENT_UPLOAD_INTERVAL_SECONDS"`
	MaxBatchSize          int    `json:"max_batch_size" yaml:"max_batch_size" env:"AGENT_MAX_BATCH_SIZE"`

	FileMonitor    FileMonitorConfig    `json:"file_monitor" yaml:"file_monitor"`
	AppMonitor     AppMonitorConfig     `json:"app_monitor" yaml:"app_monitor"`
	NetworkMonitor NetworkMonitorConfig `json:"network_monitor" yaml:"network_monitor"`
	Correlation    CorrelationConfig    `json:"correlation" yaml:"correlation"`
	Security       SecurityConfig       `json:"security" yaml:"security"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
}

// NewAgentConfig returns an AgentConfig populated with the spec's defaults.
func NewAgentConfig() *AgentConfig {
	return &AgentConfig{
		UploadIntervalSeconds: 60,
		MaxBatchSize:          500,
		FileMonitor: FileMonitorConfig{
			Enabled:                  true,
			ComputeSha256ForSensitive: true,
			MonitorUsb:               true,
			MonitorNetworkShares:     true,
			AutoWatchUserFolders:     true,
			InternalBufferSize:       4096,
			DriveScanIntervalSeconds: 3,
			ExcludedExtensions:       filemonitor.DefaultConfig().ExcludedExtensions,
		},
		AppMonitor: AppMonitorConfig{
			Enabled:           true,
			PollingIntervalMs: 3000,
		},
		NetworkMonitor: NetworkMonitorConfig{
			Enabled:           true,
			PollingIntervalMs: 5000,
			PrivateSubnets:    []string{"10.", "172.16.", "192.168.", "127."},
		},
		Correlation: CorrelationConfig{
			Enabled:                          true,
			LargeTransferThresholdBytes:      25 * 1024 * 1024,
			ContinuousTransferThresholdBytes: 30 * 1024 * 1024,
			ContinuousTransferWindowMinutes:  10,
			ProbableUploadThresholdBytes:     5 * 1024 * 1024,
			ProbableUploadWindowSeconds:      15,
		},
		Security: SecurityConfig{
			EncryptLocalQueue: true,
			TamperDetection:   true,
			LocalQueuePath:    "spool",
			LogRetentionDays:  90,
		},
		Logging: defaultLogging("agent"),
	}
}

// ServerListenConfig controls the ingestion/query HTTP listener.
type ServerListenConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// ServerSecurityConfig controls ingestion authentication and per-device
// rate limiting. Authentication is a single shared secret compared in
// constant time, not per-device keys (see Non-goals: no batch signing).
type ServerSecurityConfig struct {
	SharedSecret          string `json:"shared_secret" yaml:"shared_secret" env:"SERVER_SHARED_SECRET"`
	IngestRateLimitPerMin int    `json:"ingest_rate_limit_per_min" yaml:"ingest_rate_limit_per_min" env:"SERVER_INGEST_RATE_LIMIT_PER_MIN"`
	IngestBurstSize       int    `json:"ingest_burst_size" yaml:"ingest_burst_size" env:"SERVER_INGEST_BURST_SIZE"`
}

// BackupConfig controls the best-effort replication worker.
type BackupConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" env:"BACKUP_ENABLED"`
	Endpoint      string `json:"endpoint" yaml:"endpoint" env:"BACKUP_ENDPOINT"`
	ApiKey        string `json:"api_key" yaml:"api_key" env:"BACKUP_API_KEY"`
	ChunkSize     int    `json:"chunk_size" yaml:"chunk_size" env:"BACKUP_CHUNK_SIZE"`
	QueueCapacity int    `json:"queue_capacity" yaml:"queue_capacity" env:"BACKUP_QUEUE_CAPACITY"`
}

// ServerConfig is the root configuration for the aggregation server.
type ServerConfig struct {
	Server   ServerListenConfig  `json:"server" yaml:"server"`
	Security ServerSecurityConfig `json:"security" yaml:"security"`
	Backup   BackupConfig        `json:"backup" yaml:"backup"`
	Logging  LoggingConfig       `json:"logging" yaml:"logging"`
}

// NewServerConfig returns a ServerConfig populated with defaults.
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerListenConfig{Host: "0.0.0.0", Port: 8080},
		Security: ServerSecurityConfig{
			IngestRateLimitPerMin: 120,
			IngestBurstSize:       20,
		},
		Backup: BackupConfig{
			ChunkSize:     450,
			QueueCapacity: 1000,
		},
		Logging: defaultLogging("server"),
	}
}

// LoadAgentConfig loads configuration from an optional YAML file (path taken
// from CONFIG_FILE, defaulting to configs/agent.yaml) and environment
// variable overrides, layered on top of the spec defaults.
func LoadAgentConfig() (*AgentConfig, error) {
	_ = godotenv.Load()

	cfg := NewAgentConfig()
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/agent.yaml"
	}
	if err := loadYAMLIfPresent(path, cfg); err != nil {
		return nil, err
	}

	if err := decodeEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Security.EncryptLocalQueue && strings.TrimSpace(cfg.Security.QueueSecret) == "" {
		return nil, fmt.Errorf("config: security.encrypt_local_queue is true but SECURITY_QUEUE_SECRET is unset")
	}

	return cfg, nil
}

// LoadServerConfig loads configuration the same way as LoadAgentConfig.
func LoadServerConfig() (*ServerConfig, error) {
	_ = godotenv.Load()

	cfg := NewServerConfig()
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/server.yaml"
	}
	if err := loadYAMLIfPresent(path, cfg); err != nil {
		return nil, err
	}

	if err := decodeEnv(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Security.SharedSecret) == "" {
		return nil, fmt.Errorf("config: security.shared_secret (or SERVER_SHARED_SECRET) is required")
	}

	return cfg, nil
}

func decodeEnv(cfg interface{}) error {
	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged field has a matching environment
		// variable set; that just means "no overrides" for a local run.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return fmt.Errorf("decode env: %w", err)
		}
	}
	return nil
}

func loadYAMLIfPresent(path string, out interface{}) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, out)
}
