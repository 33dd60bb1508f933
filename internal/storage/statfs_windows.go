//go:build windows

package storage

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// DiskUsage returns total and available bytes of the volume holding path
func DiskUsage(path string) (DiskStats, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return DiskStats{}, err
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return DiskStats{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}
	return DiskStats{
		Total:     int64(total),
		Available: int64(freeToCaller),
	}, nil
}
