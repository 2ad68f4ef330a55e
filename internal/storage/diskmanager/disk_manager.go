package diskmanager

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Usage is a snapshot of the filesystem holding a directory
type Usage struct {
	UsedBytes      uint64
	AvailableBytes uint64
	UsagePercent   float64
	CheckedAt      time.Time
}

// Stat reports the usage of the filesystem holding dir
func Stat(dir string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)
	used := total - stat.Bfree*uint64(stat.Bsize)

	var percent float64
	if used+available > 0 {
		percent = float64(used) / float64(used+available) * 100
	}
	return Usage{
		UsedBytes:      used,
		AvailableBytes: available,
		UsagePercent:   percent,
		CheckedAt:      time.Now(),
	}, nil
}

// DiskManagerConfig holds configuration for disk manager
type DiskManagerConfig struct {
	Dir             string
	CheckInterval   time.Duration // How long a Stat result is reused
	MaxUsagePercent float64       // Refuse writes at or above this usage
}

// DiskManager refuses writes into a directory whose filesystem is too full
type DiskManager struct {
	config  DiskManagerConfig
	logger  *zap.Logger
	mu      sync.Mutex
	cached  Usage
	refused bool
}

// NewDiskManager creates a disk manager and takes the first reading
func NewDiskManager(cfg DiskManagerConfig, logger *zap.Logger) (*DiskManager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if cfg.MaxUsagePercent <= 0 || cfg.MaxUsagePercent > 100 {
		return nil, fmt.Errorf("max usage percent must be in (0, 100], got %.2f", cfg.MaxUsagePercent)
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dm := &DiskManager{config: cfg, logger: logger}
	if err := dm.refresh(); err != nil {
		return nil, err
	}
	return dm, nil
}

// CheckBeforeWrite returns a *DiskSpaceError when a write of estimatedBytes should not proceed
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.cached.CheckedAt) > dm.config.CheckInterval {
		if err := dm.refresh(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	u := dm.cached
	full := u.UsagePercent >= dm.config.MaxUsagePercent
	if full != dm.refused {
		dm.refused = full
		if full {
			dm.logger.Error("Disk usage limit reached, refusing writes",
				zap.String("dir", dm.config.Dir),
				zap.Float64("usage_percent", u.UsagePercent),
				zap.Float64("limit", dm.config.MaxUsagePercent))
		} else {
			dm.logger.Info("Disk usage back under limit",
				zap.String("dir", dm.config.Dir),
				zap.Float64("usage_percent", u.UsagePercent))
		}
	}

	if full {
		return &DiskSpaceError{
			Message:        fmt.Sprintf("disk usage at %.2f%%, limit is %.2f%%", u.UsagePercent, dm.config.MaxUsagePercent),
			UsagePercent:   u.UsagePercent,
			AvailableBytes: u.AvailableBytes,
		}
	}
	if estimatedBytes > u.AvailableBytes {
		return &DiskSpaceError{
			Message:        fmt.Sprintf("insufficient space: need %d bytes, have %d bytes", estimatedBytes, u.AvailableBytes),
			UsagePercent:   u.UsagePercent,
			AvailableBytes: u.AvailableBytes,
		}
	}
	return nil
}

// Usage returns the last reading
func (dm *DiskManager) Usage() Usage {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.cached
}

// refresh must be called with mu held, or before dm is shared
func (dm *DiskManager) refresh() error {
	u, err := Stat(dm.config.Dir)
	if err != nil {
		return err
	}
	dm.cached = u
	return nil
}

// DiskSpaceError is returned when a write is refused
type DiskSpaceError struct {
	Message        string
	UsagePercent   float64
	AvailableBytes uint64
}

func (e *DiskSpaceError) Error() string {
	return e.Message
}

// IsDiskSpaceError checks if an error is a disk space error
func IsDiskSpaceError(err error) bool {
	var dse *DiskSpaceError
	return errors.As(err, &dse)
}
