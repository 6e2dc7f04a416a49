package filemonitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// EventSink receives classified file events.
type EventSink interface {
	AddFileEvent(model.FileEvent)
	// OnFileEvent lets the correlation engine observe every classified
	// event for R3 correlation, independent of spool buffering.
	OnFileEvent(deviceID string, fe model.FileEvent)
}

// Monitor installs recursive watches on the configured roots and emits
// classified events through the EventSink.
type Monitor struct {
	cfg        Config
	classifier *Classifier
	sink       EventSink
	log        *logger.Logger
	deviceID   string
	user       string

	watcher *fsnotify.Watcher

	mu          sync.Mutex
	watchedDirs map[string]WatchSource
	baseline    map[string]struct{}
}

// NewMonitor creates a Monitor. classifier must be constructed with the same
// queue path the agent's spool is configured with.
func NewMonitor(cfg Config, classifier *Classifier, sink EventSink, deviceID, user string, log *logger.Logger) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:         cfg,
		classifier:  classifier,
		sink:        sink,
		log:         log,
		deviceID:    deviceID,
		user:        user,
		watcher:     w,
		watchedDirs: make(map[string]WatchSource),
		baseline:    make(map[string]struct{}),
	}, nil
}

// Start installs the configured watch roots, snapshots the drive baseline,
// and begins the fsnotify event loop and drive-scan timer. It returns once
// ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	for _, root := range m.resolveRoots() {
		m.installWatch(root.path, root.source)
	}

	if partitions, err := disk.Partitions(true); err == nil {
		for _, p := range partitions {
			m.baseline[strings.ToLower(p.Mountpoint)] = struct{}{}
		}
	} else {
		m.log.WithField("error", err).Warn("initial drive baseline scan failed")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.eventLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		m.driveScanLoop(ctx)
	}()
	wg.Wait()
	return m.watcher.Close()
}

type watchRoot struct {
	path   string
	source WatchSource
}

func (m *Monitor) resolveRoots() []watchRoot {
	var roots []watchRoot
	seen := make(map[string]struct{})

	add := func(path string, src WatchSource) {
		if path == "" {
			return
		}
		key := strings.ToLower(filepath.Clean(path))
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		roots = append(roots, watchRoot{path: path, source: src})
	}

	if m.cfg.AutoWatchUserFolders {
		home, err := os.UserHomeDir()
		if err == nil {
			for _, sub := range []string{"Desktop", "Documents", "Downloads", "Pictures", "Videos", "Music"} {
				add(filepath.Join(home, sub), WatchSourceLocal)
			}
			for _, sub := range wellKnownCloudSyncSubdirs {
				add(filepath.Join(home, sub), WatchSourceCloud)
			}
		}
	}

	for _, p := range m.cfg.WatchPaths {
		add(os.ExpandEnv(p), WatchSourceLocal)
	}
	for _, p := range m.cfg.SensitiveDirectories {
		add(os.ExpandEnv(p), WatchSourceLocal)
	}
	for _, p := range m.cfg.CloudSyncPaths {
		add(os.ExpandEnv(p), WatchSourceCloud)
	}

	return roots
}

// installWatch recursively adds fsnotify watches under root. Failures are
// logged and skipped; remaining roots still get installed.
func (m *Monitor) installWatch(root string, src WatchSource) {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // swallow per-subtree walk errors, continue
		}
		if !info.IsDir() {
			return nil
		}
		if watchErr := m.watcher.Add(path); watchErr != nil {
			m.log.WithField("path", path).WithField("error", watchErr).Warn("watch installation failed")
			return nil
		}
		m.mu.Lock()
		m.watchedDirs[strings.ToLower(path)] = src
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		m.log.WithField("root", root).WithField("error", err).Warn("failed to walk watch root")
	}
}

func (m *Monitor) removeWatch(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.ToLower(filepath.Clean(root))
	for dir := range m.watchedDirs {
		if strings.HasPrefix(dir, prefix) {
			_ = m.watcher.Remove(dir)
			delete(m.watchedDirs, dir)
		}
	}
}

func (m *Monitor) sourceFor(path string) WatchSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := strings.ToLower(filepath.Dir(path))
	if src, ok := m.watchedDirs[dir]; ok {
		return src
	}
	return WatchSourceLocal
}

func (m *Monitor) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			// fsnotify surfaces buffer-overflow and similar conditions as
			// plain errors; log and keep the watch armed without draining.
			m.log.WithField("error", err).Warn("filesystem watch error")
		}
	}
}

func (m *Monitor) handleEvent(ev fsnotify.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Warn("recovered from panic handling filesystem event")
		}
	}()

	action, ok := actionFor(ev.Op)
	if !ok {
		return
	}

	var size int64
	if info, err := os.Stat(ev.Name); err == nil {
		size = info.Size()
	}

	if action == model.ActionCreate {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			m.installWatch(ev.Name, m.sourceFor(ev.Name))
		}
	}

	fe := m.classifier.Classify(RawNotification{
		FullPath:  ev.Name,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Size:      size,
		Source:    m.sourceFor(ev.Name),
		DeviceID:  m.deviceID,
		User:      m.user,
	})
	if fe == nil {
		return
	}

	m.sink.AddFileEvent(*fe)
	m.sink.OnFileEvent(m.deviceID, *fe)
}

func actionFor(op fsnotify.Op) (model.ActionType, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return model.ActionCreate, true
	case op&fsnotify.Write != 0:
		return model.ActionWrite, true
	case op&fsnotify.Remove != 0:
		return model.ActionDelete, true
	case op&fsnotify.Rename != 0:
		return model.ActionRename, true
	default:
		return "", false
	}
}

func (m *Monitor) driveScanLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.DriveScanIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanDrives()
		}
	}
}

func (m *Monitor) scanDrives() {
	partitions, err := disk.Partitions(true)
	if err != nil {
		m.log.WithField("error", err).Warn("drive scan failed")
		return
	}

	current := make(map[string]disk.PartitionStat, len(partitions))
	for _, p := range partitions {
		current[strings.ToLower(p.Mountpoint)] = p
	}

	for mount, p := range current {
		_, inBaseline := m.baseline[mount]
		removable := isRemovable(p)
		network := isNetworkShare(p)
		if !inBaseline || removable || network {
			m.classifier.MarkExternalDriveKnown(mount)
			m.mu.Lock()
			_, already := m.watchedDirs[mount]
			m.mu.Unlock()
			if already {
				continue
			}
			switch {
			case network && m.cfg.MonitorNetworkShares:
				m.installWatch(p.Mountpoint, WatchSourceNetwork)
			case !network && m.cfg.MonitorUsb:
				m.installWatch(p.Mountpoint, WatchSourceUSB)
			}
		}
	}

	m.mu.Lock()
	for dir, src := range m.watchedDirs {
		if src != WatchSourceUSB && src != WatchSourceNetwork {
			continue
		}
		if _, stillPresent := current[dir]; !stillPresent {
			m.classifier.UnmarkExternalDrive(dir)
		}
	}
	m.mu.Unlock()
	for dir := range m.watchedDirsSnapshot() {
		if _, stillPresent := current[dir]; !stillPresent {
			m.removeWatch(dir)
		}
	}
}

// isNetworkShare reports whether p is a mounted network filesystem
// (SMB/CIFS/NFS or a Windows UNC mapped drive), re-scanned on the same
// cadence as local/USB drives per §4.1.
func isNetworkShare(p disk.PartitionStat) bool {
	fstype := strings.ToLower(p.Fstype)
	switch fstype {
	case "nfs", "nfs4", "cifs", "smbfs", "smb", "smb2", "smb3", "9p", "afp":
		return true
	}
	return strings.HasPrefix(p.Device, `\\`) || strings.HasPrefix(p.Device, "//")
}

func (m *Monitor) watchedDirsSnapshot() map[string]WatchSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]WatchSource, len(m.watchedDirs))
	for k, v := range m.watchedDirs {
		out[k] = v
	}
	return out
}

func isRemovable(p disk.PartitionStat) bool {
	opts := strings.ToLower(p.Opts)
	fstype := strings.ToLower(p.Fstype)
	return strings.Contains(opts, "removable") || fstype == "vfat" || fstype == "exfat"
}
