// Package model defines the event and device records shared by the agent
// and server across the wire protocol.
package model

import "time"

// ActionType is the filesystem action observed or inferred for a FileEvent.
type ActionType string

const (
	ActionRead   ActionType = "Read"
	ActionWrite  ActionType = "Write"
	ActionCopy   ActionType = "Copy"
	ActionMove   ActionType = "Move"
	ActionDelete ActionType = "Delete"
	ActionRename ActionType = "Rename"
	ActionCreate ActionType = "Create"
)

// Direction describes the inferred cross-boundary movement of a FileEvent.
type Direction string

const (
	DirectionIncoming      Direction = "Incoming"
	DirectionOutgoing      Direction = "Outgoing"
	DirectionDeleteExternal Direction = "DeleteExternal"
	DirectionUnknown       Direction = "Unknown"
)

// Flag values the classifier and correlation engine assign to FileEvents.
const (
	FlagNormal              = "Normal"
	FlagUsbTransfer         = "UsbTransfer"
	FlagNetworkTransfer     = "NetworkTransfer"
	FlagCloudSyncTransfer   = "CloudSyncTransfer"
	FlagInternetDownload    = "InternetDownload"
	FlagProbableUsbTransfer = "ProbableUsbTransfer"
	FlagAppTransfer         = "AppTransfer"
	FlagProbableUpload      = "ProbableUpload"
)

// Source tags describe which watch produced a FileEvent.
const (
	SourceUSB          = "USB"
	SourceNetworkShare  = "NetworkShare"
	SourceCloudSync     = "CloudSync"
	SourceLocal         = "Local"
)

// Severity of an AlertEvent.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// AlertType identifies which correlation rule produced an AlertEvent.
type AlertType string

const (
	AlertLargeTransfer      AlertType = "LargeTransfer"
	AlertContinuousTransfer AlertType = "ContinuousTransfer"
	AlertProbableUpload     AlertType = "ProbableUpload"
)

// DeviceInfo identifies an endpoint and is refreshed on every upload.
type DeviceInfo struct {
	DeviceID     string    `json:"deviceId"`
	Hostname     string    `json:"hostname"`
	User         string    `json:"user"`
	OSVersion    string    `json:"osVersion"`
	AgentVersion string    `json:"agentVersion"`
	LastSeen     time.Time `json:"lastSeen"`
}

// FileEvent is a classified filesystem notification.
type FileEvent struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"deviceId"`
	User        string     `json:"user"`
	Filename    string     `json:"filename"`
	FullPath    string     `json:"fullPath"`
	Size        int64      `json:"size"`
	SHA256      string     `json:"sha256,omitempty"`
	Action      ActionType `json:"action"`
	Timestamp   time.Time  `json:"timestamp"`
	ProcessName string     `json:"processName"`
	Flag        string     `json:"flag"`
	Source      string     `json:"source"`
	IsTransfer  bool       `json:"isTransfer"`
	Direction   Direction  `json:"direction"`
}

// NetworkEvent is produced once a TCP connection's window is closed.
type NetworkEvent struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"deviceId"`
	ProcessName   string    `json:"processName"`
	PID           int32     `json:"pid"`
	BytesSent     int64     `json:"bytesSent"`
	BytesReceived int64     `json:"bytesReceived"`
	DestAddr      string    `json:"destAddr"`
	DurationSec   float64   `json:"durationSec"`
	Timestamp     time.Time `json:"timestamp"`
	Flag          string    `json:"flag"`
}

// AppUsageEvent is emitted when the foreground application session ends.
type AppUsageEvent struct {
	ID          string        `json:"id"`
	DeviceID    string        `json:"deviceId"`
	AppName     string        `json:"appName"`
	WindowTitle string        `json:"windowTitle"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	PID         int32         `json:"pid"`
}

// AlertEvent is emitted by the correlation engine.
type AlertEvent struct {
	ID                  string    `json:"id"`
	DeviceID            string    `json:"deviceId"`
	Severity            Severity  `json:"severity"`
	AlertType           AlertType `json:"alertType"`
	Description         string    `json:"description"`
	RelatedFilename     string    `json:"relatedFilename,omitempty"`
	RelatedProcessName  string    `json:"relatedProcessName,omitempty"`
	BytesInvolved       int64     `json:"bytesInvolved,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// LogBatch is the unit the uploader sends and the ingestion endpoint consumes.
type LogBatch struct {
	DeviceID       string          `json:"deviceId"`
	DeviceInfo     DeviceInfo      `json:"deviceInfo"`
	FileEvents     []FileEvent     `json:"fileEvents"`
	NetworkEvents  []NetworkEvent  `json:"networkEvents"`
	AppUsageEvents []AppUsageEvent `json:"appUsageEvents"`
	Alerts         []AlertEvent    `json:"alerts"`
}

// IsEmpty reports whether the batch carries no events of any kind.
func (b LogBatch) IsEmpty() bool {
	return len(b.FileEvents) == 0 && len(b.NetworkEvents) == 0 &&
		len(b.AppUsageEvents) == 0 && len(b.Alerts) == 0
}

// Len returns the total number of events across all kinds, used to cap
// batch size against MaxBatchSize.
func (b LogBatch) Len() int {
	return len(b.FileEvents) + len(b.NetworkEvents) + len(b.AppUsageEvents) + len(b.Alerts)
}
