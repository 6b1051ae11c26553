package fetchthreatintelips

import "time"

type Config struct {
	// QueryTimeout bounds the log analytics call, not the whole job.
	QueryTimeout time.Duration
	SnapshotTTL  time.Duration
	// PublishByDefault applies when the job does not set publishSnapshot.
	PublishByDefault bool
}

func LoadConfig() *Config {
	return &Config{
		QueryTimeout:     60 * time.Second,
		SnapshotTTL:      24 * time.Hour,
		PublishByDefault: true,
	}
}
