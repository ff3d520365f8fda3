// Package logger records timestamped weight samples to CSV files with
// automatic rotation.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/weighworks/loadcell-dash/internal/registry"
)

// Logger writes one CSV row per device per interval.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows
)

var csvHeader = []string{
	"timestamp", "address", "raw_g", "calibrated_g",
	"zero_offset_g", "scale_factor", "resolution_g", "samples",
	"zero_error", "error", "overload", "zero_adjusted", "cal_needed",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/loadcell-dash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond // Default 10 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one row per device if the minimum interval has elapsed.
func (l *Logger) Record(devices []registry.DeviceState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || len(devices) == 0 {
		return
	}

	now := time.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	for _, d := range devices {
		if err := l.writer.Write(buildRow(now, d)); err != nil {
			log.Printf("[logger] write failed: %v", err)
			return
		}
		l.rows++
	}
	l.writer.Flush()
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("loadcell_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, d registry.DeviceState) []string {
	return []string{
		ts.Format(time.RFC3339Nano),
		fmt.Sprintf("0x%02X", d.Address),
		fmt.Sprintf("%.2f", d.LastRawGrams),
		fmt.Sprintf("%.2f", d.LastCalibratedGrams),
		fmt.Sprintf("%.2f", d.ZeroOffsetGrams),
		fmt.Sprintf("%.6f", d.ScaleFactor),
		fmt.Sprintf("%.1f", d.LastResolutionGrams),
		fmt.Sprintf("%d", d.SampleCount),
		boolStr(d.LastStatus.ZeroError),
		boolStr(d.LastStatus.Error),
		boolStr(d.LastStatus.Overload),
		boolStr(d.LastStatus.ZeroAdjusted),
		boolStr(d.LastStatus.CalibrationNeeded),
	}
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
