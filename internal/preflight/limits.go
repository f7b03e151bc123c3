package preflight

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// MinFileDescriptors is the minimum required file descriptor limit.
	MinFileDescriptors = 1024

	// MinInotifyWatches is the watch limit below which large trees fall
	// back to polling.
	MinInotifyWatches = 8192

	// DefaultInotifyLimitPath holds the per-user inotify watch limit.
	DefaultInotifyLimitPath = "/proc/sys/fs/inotify/max_user_watches"
)

// CheckFileDescriptors checks if the file descriptor limit is sufficient.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	currentLimit := rLimit.Cur
	result.Message = fmt.Sprintf("%d (minimum: %d)", currentLimit, MinFileDescriptors)

	if currentLimit < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
		return result
	}

	result.Status = StatusPass
	return result
}

// CheckInotifyWatches checks the inotify watch limit. It is skipped when
// polling is forced.
func (c *Checker) CheckInotifyWatches(forcePolling bool) CheckResult {
	result := CheckResult{
		Name: "inotify_watches",
	}

	if forcePolling {
		result.Status = StatusPass
		result.Message = "skipped (polling forced)"
		return result
	}

	data, err := os.ReadFile(c.inotifyPath)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "limit unavailable, polling may be used"
		result.Details = err.Error()
		return result
	}

	limit, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unreadable limit %q", strings.TrimSpace(string(data)))
		return result
	}

	result.Message = fmt.Sprintf("%d (recommended: %d)", limit, MinInotifyWatches)
	if limit < MinInotifyWatches {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("Run 'sysctl fs.inotify.max_user_watches=%d' to raise it", MinInotifyWatches*8)
		return result
	}

	result.Status = StatusPass
	return result
}
