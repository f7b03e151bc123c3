package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/anythingd/internal/config"
	"github.com/Aman-CERP/anythingd/internal/mountinfo"
	"github.com/Aman-CERP/anythingd/internal/plugin"
)

// CheckWatchPaths checks that every watch root is an existing directory.
func (c *Checker) CheckWatchPaths(paths []string) CheckResult {
	result := CheckResult{
		Name:     "watch_paths",
		Required: true,
	}

	if len(paths) == 0 {
		result.Status = StatusFail
		result.Message = "no watch paths configured"
		return result
	}

	var problems []string
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("%s: %v", p, err))
		case !info.IsDir():
			problems = append(problems, fmt.Sprintf("%s: not a directory", p))
		}
	}

	if len(problems) > 0 {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%d of %d unusable", len(problems), len(paths))
		result.Details = strings.Join(problems, "; ")
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d director%s", len(paths), plural(len(paths), "y", "ies"))
	result.Details = strings.Join(paths, ", ")
	return result
}

// CheckPlugins parses every manifest in dir. Bad manifests are skipped by
// the service, so they only warn.
func (c *Checker) CheckPlugins(dir string) CheckResult {
	result := CheckResult{
		Name: "plugins",
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		result.Status = StatusWarn
		result.Message = "plugin directory missing, no observers will run"
		result.Details = dir
		return result
	}
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read plugin directory: %v", err)
		return result
	}

	var (
		manifests int
		keys      int
		problems  []string
	)
	for _, e := range entries {
		if e.IsDir() || !plugin.IsManifest(e.Name()) {
			continue
		}
		manifests++
		m, err := plugin.ParseManifest(filepath.Join(dir, e.Name()))
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		keys += len(m.Observers)
	}

	result.Message = fmt.Sprintf("%d manifest%s, %d observer%s",
		manifests, plural(manifests, "", "s"), keys, plural(keys, "", "s"))
	if len(problems) > 0 {
		result.Status = StatusWarn
		result.Message += fmt.Sprintf(", %d invalid", len(problems))
		result.Details = strings.Join(problems, "; ")
		return result
	}
	if keys == 0 {
		result.Status = StatusWarn
		result.Details = "No observers declared in " + dir
		return result
	}

	result.Status = StatusPass
	return result
}

// CheckRelay checks that the mount relay can run on this kernel. Relay
// failures never stop the service, so this check only warns.
func (c *Checker) CheckRelay(cfg config.RelayConfig) CheckResult {
	result := CheckResult{
		Name: "mount_relay",
	}

	if !cfg.Enabled {
		result.Status = StatusPass
		result.Message = "disabled"
		return result
	}

	release, err := c.release()
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot determine kernel release: %v", err)
		return result
	}
	major, minor, ok := mountinfo.ParseRelease(release)
	if !ok {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unrecognized kernel release %q", release)
		return result
	}
	if !mountinfo.NeedsRelay(major, minor) {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("not needed on kernel %s", release)
		return result
	}

	src := cfg.MountinfoPath
	if src == "" {
		src = mountinfo.DefaultSourcePath
	}
	if _, err := os.Stat(src); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("mount table unreadable: %v", err)
		return result
	}

	dev := cfg.DevicePath
	if dev == "" {
		dev = mountinfo.DefaultDevicePath
	}
	if _, err := os.Stat(dev); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("device %s missing", dev)
		if cfg.RetryDevice {
			result.Message += ", the service will keep retrying"
		}
		result.Details = "Is the vfs monitor kernel module loaded?"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("ready on kernel %s", release)
	result.Details = src + " -> " + dev
	return result
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
