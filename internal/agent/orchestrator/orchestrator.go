// Package orchestrator wires the agent's monitors, correlation engine,
// local queue, and uploader together and manages their lifecycle.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/utils"
	"github.com/R3E-Network/service_layer/internal/agent/appmonitor"
	"github.com/R3E-Network/service_layer/internal/agent/correlation"
	"github.com/R3E-Network/service_layer/internal/agent/filemonitor"
	"github.com/R3E-Network/service_layer/internal/agent/networkmonitor"
	"github.com/R3E-Network/service_layer/internal/agent/spool"
	"github.com/R3E-Network/service_layer/internal/agent/uploader"
	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// shutdownGrace is how long the orchestrator waits, in total, for all
// components to notice context cancellation and exit.
const shutdownGrace = 1 * time.Second

// Config bundles every sub-component's configuration plus the device
// identity attached to everything this agent produces.
type Config struct {
	Device         model.DeviceInfo
	User           string
	FileMonitor    filemonitor.Config
	AppMonitor     appmonitor.Config
	NetworkMonitor networkmonitor.Config
	Correlation    correlation.Config
	Queue          spool.Config
	Uploader       uploader.Config
}

// Orchestrator owns every agent component and coordinates startup and
// graceful shutdown.
type Orchestrator struct {
	cfg Config
	log *logger.Logger

	queue    *spool.Queue
	engine   *correlation.Engine
	fileMon  *filemonitor.Monitor
	appMon   *appmonitor.Monitor
	netMon   *networkmonitor.Monitor
	uploader *uploader.Uploader
}

// New builds an Orchestrator with all components constructed and wired,
// but not yet running.
func New(cfg Config, log *logger.Logger) (*Orchestrator, error) {
	queue, err := spool.New(cfg.Queue, log)
	if err != nil {
		return nil, err
	}

	engine := correlation.New(cfg.Correlation, queue, queue)

	evSink := &eventSink{queue: queue, engine: engine, deviceID: cfg.Device.DeviceID}

	appMon := appmonitor.NewMonitor(cfg.AppMonitor, appmonitor.ProcessListProbe{}, evSink, cfg.Device.DeviceID, log)

	classifier := filemonitor.New(cfg.FileMonitor, cfg.Queue.Path, appMon, log)
	fileMon, err := filemonitor.NewMonitor(cfg.FileMonitor, classifier, evSink, cfg.Device.DeviceID, cfg.User, log)
	if err != nil {
		return nil, err
	}

	netMon := networkmonitor.NewMonitor(cfg.NetworkMonitor, evSink, cfg.Device.DeviceID, log)

	up, err := uploader.New(cfg.Uploader, queue, cfg.Device, log)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:      cfg,
		log:      log,
		queue:    queue,
		engine:   engine,
		fileMon:  fileMon,
		appMon:   appMon,
		netMon:   netMon,
		uploader: up,
	}, nil
}

// Run starts every component and blocks until ctx is cancelled, at which
// point it waits up to shutdownGrace in total for all components to exit and
// performs one final queue flush so no buffered events are lost.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		utils.SafeGo(func() {
			defer wg.Done()
			fn(ctx)
		}, func(err error) {
			o.log.WithField("component", name).WithField("panic", err).Error("component panicked")
		})
	}

	start("queue", func(ctx context.Context) { o.queue.Run(ctx) })
	start("uploader", func(ctx context.Context) { o.uploader.Run(ctx) })
	start("app_monitor", func(ctx context.Context) { o.appMon.Run(ctx) })
	start("network_monitor", func(ctx context.Context) { o.netMon.Run(ctx) })
	start("file_monitor", func(ctx context.Context) {
		if err := o.fileMon.Start(ctx); err != nil {
			o.log.WithField("error", err).Error("file monitor exited")
		}
	})

	<-ctx.Done()
	o.log.Info("shutdown signal received, waiting for components to stop")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		o.log.Warn("timed out waiting for components to stop")
	}

	if err := o.queue.Flush(); err != nil {
		o.log.WithField("error", err).Warn("final flush on shutdown failed")
	}
}

// eventSink fans classified file and network events out to the local
// queue (for eventual upload) and the correlation engine (for alerting).
type eventSink struct {
	queue    *spool.Queue
	engine   *correlation.Engine
	deviceID string
}

func (s *eventSink) AddFileEvent(e model.FileEvent) { s.queue.AddFileEvent(e) }

func (s *eventSink) OnFileEvent(deviceID string, e model.FileEvent) {
	s.engine.OnFileEvent(deviceID, e)
}

func (s *eventSink) AddAppUsageEvent(e model.AppUsageEvent) { s.queue.AddAppUsageEvent(e) }

func (s *eventSink) AddNetworkEvent(e model.NetworkEvent) { s.queue.AddNetworkEvent(e) }

func (s *eventSink) OnNetworkEvent(deviceID string, e model.NetworkEvent) {
	s.engine.OnNetworkEvent(deviceID, e)
}
