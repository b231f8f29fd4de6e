package capture

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/kapt/internal/errors"
)

// DiskGuard refuses new chunks when the temp directory runs low on space.
type DiskGuard struct {
	path    string
	minFree uint64
	usage   func(path string) (*disk.UsageStat, error)
}

// NewDiskGuard creates a guard for path requiring minFreeMB megabytes free.
func NewDiskGuard(path string, minFreeMB uint64) *DiskGuard {
	return &DiskGuard{
		path:    path,
		minFree: minFreeMB * 1024 * 1024,
		usage:   disk.Usage,
	}
}

// Check returns an error when free space is below the configured minimum.
// Failure to read usage is logged and not treated as low space.
func (g *DiskGuard) Check() error {
	if g == nil || g.minFree == 0 {
		return nil
	}

	usage, err := g.usage(g.path)
	if err != nil {
		logger.Warn("unable to read disk usage", "path", g.path, "error", err)
		return nil
	}

	if usage.Free < g.minFree {
		return errors.Newf("only %d MB free in %s", usage.Free/(1024*1024), g.path).
			Component("capture").
			Category(errors.CategoryDiskSpace).
			Context("free_bytes", usage.Free).
			Context("min_free_bytes", g.minFree).
			Context("used_percent", usage.UsedPercent).
			Build()
	}
	return nil
}
