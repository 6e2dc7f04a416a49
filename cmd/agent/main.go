// Command agent runs the endpoint monitoring agent: file, application, and
// network monitors feeding a correlation engine and an encrypted local
// queue, periodically drained to the aggregation server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/service_layer/internal/agent/appmonitor"
	"github.com/R3E-Network/service_layer/internal/agent/correlation"
	"github.com/R3E-Network/service_layer/internal/agent/filemonitor"
	"github.com/R3E-Network/service_layer/internal/agent/networkmonitor"
	"github.com/R3E-Network/service_layer/internal/agent/orchestrator"
	"github.com/R3E-Network/service_layer/internal/agent/spool"
	"github.com/R3E-Network/service_layer/internal/agent/uploader"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/config"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		log.Fatalf("load agent config: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	deviceID := resolveDeviceID(cfg.DeviceID)
	hostname, _ := os.Hostname()

	orchCfg := orchestrator.Config{
		Device: model.DeviceInfo{
			DeviceID:     deviceID,
			Hostname:     hostname,
			AgentVersion: "1.0.0",
		},
		User: os.Getenv("USER"),
		FileMonitor: filemonitor.Config{
			Enabled:                   cfg.FileMonitor.Enabled,
			WatchPaths:                cfg.FileMonitor.WatchPaths,
			SensitiveDirectories:      cfg.FileMonitor.SensitiveDirectories,
			CloudSyncPaths:            cfg.FileMonitor.CloudSyncPaths,
			ComputeSha256ForSensitive: cfg.FileMonitor.ComputeSha256ForSensitive,
			MonitorUsb:                cfg.FileMonitor.MonitorUsb,
			MonitorNetworkShares:      cfg.FileMonitor.MonitorNetworkShares,
			ExcludedExtensions:        cfg.FileMonitor.ExcludedExtensions,
			ExcludedPaths:             cfg.FileMonitor.ExcludedPaths,
			AutoWatchUserFolders:      cfg.FileMonitor.AutoWatchUserFolders,
			InternalBufferSize:        cfg.FileMonitor.InternalBufferSize,
			DriveScanIntervalSeconds:  cfg.FileMonitor.DriveScanIntervalSeconds,
		},
		AppMonitor: appmonitor.Config{
			Enabled:           cfg.AppMonitor.Enabled,
			PollingIntervalMs: cfg.AppMonitor.PollingIntervalMs,
			ExcludedProcesses: cfg.AppMonitor.ExcludedProcesses,
		},
		NetworkMonitor: networkmonitor.Config{
			Enabled:           cfg.NetworkMonitor.Enabled,
			PollingIntervalMs: cfg.NetworkMonitor.PollingIntervalMs,
			ExcludedProcesses: cfg.NetworkMonitor.ExcludedProcesses,
			PrivateSubnets:    cfg.NetworkMonitor.PrivateSubnets,
		},
		Correlation: correlation.Config{
			Enabled:                          cfg.Correlation.Enabled,
			LargeTransferThresholdBytes:      cfg.Correlation.LargeTransferThresholdBytes,
			ContinuousTransferThresholdBytes: cfg.Correlation.ContinuousTransferThresholdBytes,
			ContinuousTransferWindowMinutes:  cfg.Correlation.ContinuousTransferWindowMinutes,
			ProbableUploadThresholdBytes:     cfg.Correlation.ProbableUploadThresholdBytes,
			ProbableUploadWindowSeconds:      cfg.Correlation.ProbableUploadWindowSeconds,
		},
		Queue: spool.Config{
			Path:          cfg.Security.LocalQueuePath,
			Secret:        cfg.Security.QueueSecret,
			RetentionDays: cfg.Security.LogRetentionDays,
		},
		Uploader: uploader.Config{
			DeviceID:              deviceID,
			ApiEndpoint:           cfg.ApiEndpoint,
			ApiKey:                cfg.ApiKey,
			UploadIntervalSeconds: cfg.UploadIntervalSeconds,
			MaxBatchSize:          cfg.MaxBatchSize,
		},
	}

	orch, err := orchestrator.New(orchCfg, appLog)
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		appLog.Info("shutdown signal received")
		cancel()
	}()

	appLog.WithField("device_id", deviceID).Info("agent starting")
	orch.Run(ctx)
	appLog.Info("agent stopped")
}

// resolveDeviceID falls back to the machine hostname when no device id is
// configured, so a freshly-provisioned agent still reports consistently.
func resolveDeviceID(configured string) string {
	if configured != "" {
		return configured
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown-device"
}
