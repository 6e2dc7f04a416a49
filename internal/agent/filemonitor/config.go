package filemonitor

// Config controls the File Monitor / File-Activity Classifier.
type Config struct {
	Enabled bool

	WatchPaths           []string
	SensitiveDirectories []string
	CloudSyncPaths       []string

	ComputeSha256ForSensitive bool
	MonitorUsb                bool
	MonitorNetworkShares      bool

	ExcludedExtensions []string
	ExcludedPaths      []string

	AutoWatchUserFolders bool
	InternalBufferSize   int

	// DriveScanIntervalSeconds is the cadence for external/network drive discovery.
	// Spec default: 3s.
	DriveScanIntervalSeconds int
}

// DefaultConfig returns spec defaults for fields with one.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		ComputeSha256ForSensitive: true,
		MonitorUsb:                true,
		MonitorNetworkShares:      true,
		AutoWatchUserFolders:      true,
		InternalBufferSize:        1024,
		DriveScanIntervalSeconds:  3,
		ExcludedExtensions:        defaultNoisyExtensions(),
	}
}

func defaultNoisyExtensions() []string {
	return []string{".tmp", ".temp", ".lock", ".log", ".journal", ".bak", ".swp", ".crdownload", ".part"}
}

// wellKnownCloudSyncSubdirs are checked relative to the user's home
// directory when discovering cloud-sync roots.
var wellKnownCloudSyncSubdirs = []string{
	"OneDrive", "Google Drive", "GoogleDrive", "Dropbox", "iCloudDrive", "iCloud Drive", "MEGA", "Box", "Box Sync",
}

// noisyPathFragments are checked case-insensitively against the full path.
var noisyPathFragments = []string{
	"/temp/", "\\temp\\",
	"/cache/", "\\cache\\",
	"/appdata/local/temp", "\\appdata\\local\\temp",
	"/.cache/", "\\.cache\\",
	".git/", ".git\\",
	".svn/", ".svn\\",
	"/node_modules/", "\\node_modules\\",
	"/dist/", "\\dist\\", "/build/", "\\build\\",
	"$recycle.bin", "recycle.bin",
	"system volume information",
}
