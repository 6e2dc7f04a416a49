package correlation

import "time"

// Config holds the correlation engine's thresholds, all as configured by
// the agent's Correlation config section.
type Config struct {
	Enabled bool

	LargeTransferThresholdBytes int64

	ContinuousTransferThresholdBytes int64
	ContinuousTransferWindowMinutes  int

	ProbableUploadThresholdBytes int64
	ProbableUploadWindowSeconds  int
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:                           true,
		LargeTransferThresholdBytes:       25 * 1024 * 1024,
		ContinuousTransferThresholdBytes:  30 * 1024 * 1024,
		ContinuousTransferWindowMinutes:   10,
		ProbableUploadThresholdBytes:      5 * 1024 * 1024,
		ProbableUploadWindowSeconds:       15,
	}
}

func (c Config) continuousWindow() time.Duration {
	return time.Duration(c.ContinuousTransferWindowMinutes) * time.Minute
}

func (c Config) probableUploadWindow() time.Duration {
	return time.Duration(c.ProbableUploadWindowSeconds) * time.Second
}

const r1DedupeWindow = 60 * time.Second
