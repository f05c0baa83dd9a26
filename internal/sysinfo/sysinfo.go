package sysinfo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Metrics describes the host the API runs on, for the admin stats endpoint
type Metrics struct {
	CPUCount        int     `json:"cpu_count"`
	MemoryTotalGB   float64 `json:"memory_total_gb"`
	MemoryUsedGB    float64 `json:"memory_used_gb"`
	MemoryFreeGB    float64 `json:"memory_free_gb"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskUsedGB      float64 `json:"disk_used_gb"`
	DiskAvailableGB float64 `json:"disk_available_gb"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
}

// GetMetrics returns host metrics. dataDir selects the filesystem whose usage
// is reported. Whatever could be collected is returned alongside the error.
func GetMetrics(ctx context.Context, dataDir string) (Metrics, error) {
	metrics := Metrics{
		CPUCount: runtime.NumCPU(),
	}

	var errs []error

	// Get memory info
	if file, err := os.Open("/proc/meminfo"); err != nil {
		errs = append(errs, fmt.Errorf("failed to open /proc/meminfo: %w", err))
	} else {
		if err := parseMemInfo(file, &metrics); err != nil {
			errs = append(errs, err)
		}
		file.Close()
	}

	// Get disk info of the data directory
	if err := getDiskInfo(ctx, dataDir, &metrics); err != nil {
		errs = append(errs, fmt.Errorf("failed to get disk info: %w", err))
	}

	return metrics, errors.Join(errs...)
}

// parseMemInfo reads memory information in /proc/meminfo format
func parseMemInfo(r io.Reader, metrics *Metrics) error {
	var memTotal, memAvailable float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			memTotal = value / (1024 * 1024) // KB to GB
		case strings.HasPrefix(line, "MemAvailable:"):
			memAvailable = value / (1024 * 1024) // KB to GB
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading meminfo: %w", err)
	}
	if memTotal == 0 {
		return errors.New("meminfo has no MemTotal entry")
	}

	metrics.MemoryTotalGB = memTotal
	metrics.MemoryFreeGB = memAvailable
	metrics.MemoryUsedGB = memTotal - memAvailable

	return nil
}

// getDiskInfo retrieves usage of the filesystem holding dir with POSIX df
func getDiskInfo(ctx context.Context, dir string, metrics *Metrics) error {
	if dir == "" {
		dir = "."
	}

	output, err := exec.CommandContext(ctx, "df", "-P", "-k", dir).Output()
	if err != nil {
		return fmt.Errorf("df failed: %w", err)
	}
	return parseDF(string(output), metrics)
}

// parseDF parses `df -P -k` output: a header line, then
// filesystem, 1024-blocks, used, available, capacity, mount point
func parseDF(output string, metrics *Metrics) error {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("unexpected df output format")
	}

	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return fmt.Errorf("unexpected df output format")
	}

	used, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("failed to parse used space: %w", err)
	}
	available, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return fmt.Errorf("failed to parse available space: %w", err)
	}

	metrics.DiskUsedGB = used / (1024 * 1024) // KB to GB
	metrics.DiskAvailableGB = available / (1024 * 1024)

	// Calculate totals
	metrics.DiskTotalGB = metrics.DiskAvailableGB + metrics.DiskUsedGB
	if metrics.DiskTotalGB > 0 {
		metrics.DiskUsedPercent = (metrics.DiskUsedGB / metrics.DiskTotalGB) * 100
	}

	return nil
}
