package supervise

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Bundle is the diagnostics snapshot returned by the diagnostics RPC
// method: host resource stats, daemon run metadata, a tail of the log
// file, and the active config as a full map (the config holds token file
// paths, not token values). Nothing in the bundle is passed through
// redact.Redactor.
type Bundle struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	Uptime       time.Duration  `json:"uptime"`
	GoVersion    string         `json:"go_version"`
	NumGoroutine int            `json:"num_goroutine"`
	Host         HostStats      `json:"host"`
	DBSizeBytes  int64          `json:"db_size_bytes"`
	LogTail      []string       `json:"log_tail"`
	Config       map[string]any `json:"config"`
	Health       Summary        `json:"health"`
}

type HostStats struct {
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	KernelVersion string  `json:"kernel_version"`
	CPUCount      int     `json:"cpu_count"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// DiagnosticsCollector assembles a Bundle on request. startedAt is recorded
// once at daemon startup; dbPath and logPath point at the files to stat/tail.
type DiagnosticsCollector struct {
	startedAt time.Time
	dbPath    string
	logPath   string
	configs   *ConfigProvider
	sources   SourceLister
}

func NewDiagnosticsCollector(startedAt time.Time, dbPath, logPath string, configs *ConfigProvider, sources SourceLister) *DiagnosticsCollector {
	return &DiagnosticsCollector{startedAt: startedAt, dbPath: dbPath, logPath: logPath, configs: configs, sources: sources}
}

// Collect implements rpc.Diagnostics: builds the bundle and round-trips it
// through JSON into a plain map, the same convention ConfigProvider uses so
// rpc never needs to import this package's concrete types.
func (d *DiagnosticsCollector) Collect(ctx context.Context) (map[string]any, error) {
	b, err := d.collect(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DiagnosticsCollector) collect(ctx context.Context) (Bundle, error) {
	b := Bundle{
		GeneratedAt:  time.Now(),
		Uptime:       time.Since(d.startedAt),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Config:       d.configs.CurrentConfig(),
	}

	if info, err := os.Stat(d.dbPath); err == nil {
		b.DBSizeBytes = info.Size()
	}

	b.LogTail = tailFile(d.logPath, 200)

	if hi, err := host.InfoWithContext(ctx); err == nil {
		b.Host.OS = hi.OS
		b.Host.Platform = hi.Platform
		b.Host.KernelVersion = hi.KernelVersion
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		b.Host.CPUCount = counts
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		b.Host.MemoryUsedMB = vm.Used / (1024 * 1024)
		b.Host.MemoryTotalMB = vm.Total / (1024 * 1024)
		b.Host.MemoryPercent = vm.UsedPercent
	}

	if d.sources != nil {
		if h, err := Aggregate(ctx, d.sources); err == nil {
			b.Health = h
		}
	}

	return b, nil
}

// tailFile returns up to the last maxLines lines of path, or nil if the
// file does not exist or can't be read. Reads the whole file; the daemon
// does not rotate its log file, so its size is not bounded.
func tailFile(path string, maxLines int) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	lines := splitLines(string(data))
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
