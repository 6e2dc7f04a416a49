package filemonitor

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

const maxHashableBytes = 100 * 1024 * 1024 // 100 MiB

var knownBrowsers = map[string]struct{}{
	"chrome": {}, "brave": {}, "msedge": {}, "firefox": {}, "opera": {},
	"vivaldi": {}, "chromium": {}, "iexplore": {}, "safari": {},
}

var knownTransferApps = map[string]struct{}{
	"whatsapp": {}, "telegram": {}, "slack": {}, "teams": {}, "discord": {},
	"skype": {}, "zoom": {}, "signal": {}, "element": {}, "thunderbird": {},
	"outlook": {}, "filezilla": {}, "winscp": {}, "putty": {}, "7zfm": {},
	"winrar": {}, "torrent": {}, "qbittorrent": {}, "utorrent": {}, "bittorrent": {},
	"sharex": {}, "dropbox": {}, "onedrive": {}, "googledrivesync": {},
}

// RawNotification is the input to Classify: a single OS filesystem
// notification plus the context the classifier needs to apply its rules.
type RawNotification struct {
	FullPath          string
	Action            model.ActionType
	Timestamp         time.Time
	Size              int64
	Source            WatchSource
	KnownExternalNonEmpty bool // true if the known-external drive set is non-empty
	ProcessName       string  // best-effort attribution (foreground process)
	DeviceID          string
	User              string
}

// ForegroundProcessSource supplies the best-effort process attribution the
// classifier uses since OS notifications don't carry the originating
// process (§4.1 "Process attribution").
type ForegroundProcessSource interface {
	CurrentForegroundProcess() string
}

// Classifier turns RawNotifications into classified FileEvents.
type Classifier struct {
	cfg         Config
	queuePath   string
	foreground  ForegroundProcessSource
	log         *logger.Logger

	mu              sync.Mutex
	knownExternal   map[string]struct{}
}

// New creates a Classifier. queuePath is the agent's own spool directory,
// always treated as a noisy path fragment so the monitor never watches
// its own writes.
func New(cfg Config, queuePath string, foreground ForegroundProcessSource, log *logger.Logger) *Classifier {
	return &Classifier{
		cfg:           cfg,
		queuePath:     queuePath,
		foreground:    foreground,
		log:           log,
		knownExternal: make(map[string]struct{}),
	}
}

// MarkExternalDriveKnown registers a drive letter/mount as part of the
// known-external set, used by rule 4 (ProbableUsbTransfer).
func (c *Classifier) MarkExternalDriveKnown(mount string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knownExternal[strings.ToLower(mount)] = struct{}{}
}

// UnmarkExternalDrive removes a drive from the known-external set once it
// disappears.
func (c *Classifier) UnmarkExternalDrive(mount string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.knownExternal, strings.ToLower(mount))
}

func (c *Classifier) knownExternalNonEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.knownExternal) > 0
}

// Classify applies the six ordered classification rules from §4.1 and
// returns nil if the event should be suppressed as noise.
func (c *Classifier) Classify(n RawNotification) *model.FileEvent {
	if c.shouldSuppress(n.Source, n.FullPath) {
		return nil
	}

	process := n.ProcessName
	if process == "" && c.foreground != nil {
		process = c.foreground.CurrentForegroundProcess()
	}

	fe := &model.FileEvent{
		ID:          uuid.NewString(),
		DeviceID:    n.DeviceID,
		User:        n.User,
		Filename:    baseName(n.FullPath),
		FullPath:    n.FullPath,
		Size:        n.Size,
		Action:      n.Action,
		Timestamp:   n.Timestamp.UTC(),
		ProcessName: process,
		Source:      string(sourceTag(n.Source)),
		Flag:        model.FlagNormal,
		Direction:   model.DirectionUnknown,
	}

	applyClassificationRules(fe, n, process, c.knownExternalNonEmpty())

	if c.shouldHash(fe, n.Source) {
		if sum, err := hashFile(n.FullPath); err == nil {
			fe.SHA256 = sum
		}
	}

	return fe
}

// applyClassificationRules evaluates rules 1-6 in order, first match wins.
func applyClassificationRules(fe *model.FileEvent, n RawNotification, process string, knownExternalNonEmpty bool) {
	external := isExternalSource(n.Source)

	// Rule 1: external/network/cloud watch, Create or Write.
	if external && (n.Action == model.ActionCreate || n.Action == model.ActionWrite) {
		switch n.Source {
		case WatchSourceUSB:
			fe.Flag = model.FlagUsbTransfer
		case WatchSourceNetwork:
			fe.Flag = model.FlagNetworkTransfer
		case WatchSourceCloud:
			fe.Flag = model.FlagCloudSyncTransfer
		}
		fe.Action = model.ActionCopy
		fe.IsTransfer = true
		fe.Direction = model.DirectionOutgoing
		return
	}

	// Rule 2: external source, Delete.
	if external && n.Action == model.ActionDelete {
		fe.Direction = model.DirectionDeleteExternal
		return
	}

	lowerProc := strings.ToLower(process)

	// Rule 3: known browser, Create or Write, size > 0.
	if _, ok := knownBrowsers[lowerProc]; ok && (n.Action == model.ActionCreate || n.Action == model.ActionWrite) && n.Size > 0 {
		fe.Flag = model.FlagInternetDownload
		fe.Action = model.ActionCopy
		fe.IsTransfer = true
		fe.Direction = model.DirectionIncoming
		return
	}

	// Rule 4: known-external set non-empty, Create, size > 0.
	if knownExternalNonEmpty && n.Action == model.ActionCreate && n.Size > 0 {
		fe.Flag = model.FlagProbableUsbTransfer
		fe.Action = model.ActionCopy
		fe.IsTransfer = true
		fe.Direction = model.DirectionIncoming
		return
	}

	// Rule 5: known messaging/file-sharing app, Create or Write, size > 0.
	if _, ok := knownTransferApps[lowerProc]; ok && (n.Action == model.ActionCreate || n.Action == model.ActionWrite) && n.Size > 0 {
		fe.Flag = model.FlagAppTransfer
		fe.Action = model.ActionCopy
		fe.IsTransfer = true
		fe.Direction = model.DirectionIncoming
		return
	}

	// Rule 6: otherwise, Normal, action/direction observed as-is.
	fe.Flag = model.FlagNormal
	fe.Action = n.Action
	fe.Direction = model.DirectionUnknown
}

func (c *Classifier) shouldHash(fe *model.FileEvent, src WatchSource) bool {
	if fe.Size <= 0 || fe.Size > maxHashableBytes {
		return false
	}
	if isExternalSource(src) {
		return true
	}
	if c.cfg.ComputeSha256ForSensitive {
		for _, dir := range c.cfg.SensitiveDirectories {
			if strings.HasPrefix(strings.ToLower(fe.FullPath), strings.ToLower(dir)) {
				return true
			}
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, maxHashableBytes)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sourceTag(src WatchSource) WatchSource {
	switch src {
	case WatchSourceUSB:
		return WatchSourceUSB
	case WatchSourceNetwork:
		return WatchSourceNetwork
	case WatchSourceCloud:
		return WatchSourceCloud
	default:
		return WatchSourceLocal
	}
}

func baseName(path string) string {
	idx := strings.LastIndexAny(path, `/\`)
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
