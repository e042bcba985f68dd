package utils

import "time"

type HTTPClientConfig struct {
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
	LargeBuffers  bool // bigger socket receive buffers for long single-stream transfers
}

// RecordingJob is one unit of work handed to the scheduler: a source URL,
// where it lands on disk and what happens after the transfer completes.
type RecordingJob struct {
	ID         string
	Name       string
	URL        string
	OutputPath string
	Resume     bool
	Repair     bool
	Archive    bool
}

type BatchEntry struct {
	Name       string `yaml:"name"`
	StreamID   string `yaml:"stream"`
	Date       string `yaml:"date"`
	Time       string `yaml:"time"`
	Duration   int    `yaml:"duration"`
	Link       string `yaml:"link"`
	OutputPath string `yaml:"op,omitempty"`
}
