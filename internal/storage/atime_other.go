//go:build !linux && !darwin

package storage

import (
	"os"
	"time"
)

// accessTime falls back to the modification time where the platform's stat layout
// is not handled; count eviction then ignores fetches.
func accessTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
