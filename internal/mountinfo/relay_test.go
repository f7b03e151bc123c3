package mountinfo

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
)

const sampleMountinfo = "22 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw\n" +
	"23 22 0:5 / /dev rw,nosuid shared:2 - devtmpfs udev rw,size=8000k\n"

// newTestRelay writes a mount table to a temp dir and prepares an existing
// empty device file next to it.
func newTestRelay(t *testing.T, release string) (*Relay, string) {
	t.Helper()
	dir := t.TempDir()

	src := filepath.Join(dir, "mountinfo")
	require.NoError(t, os.WriteFile(src, []byte(sampleMountinfo), 0o644))

	dev := filepath.Join(dir, "driver_set_info")
	require.NoError(t, os.WriteFile(dev, nil, 0o644))

	return &Relay{
		SourcePath: src,
		DevicePath: dev,
		Release:    func() (string, error) { return release, nil },
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, dev
}

func TestRelay_OldKernelSkipsWrite(t *testing.T) {
	// Given: a 5.9 kernel
	r, dev := newTestRelay(t, "5.9.0-generic")

	// When: running the relay
	res, err := r.RunResult()

	// Then: it succeeds without writing anything
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, Success, res.Kind)
	data, err := os.ReadFile(dev)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRelay_NewKernelCopiesMountTable(t *testing.T) {
	for _, release := range []string{"5.10.3", "5.15.0-amd64-desktop", "6.1.0", "10.0.1"} {
		t.Run(release, func(t *testing.T) {
			r, dev := newTestRelay(t, release)

			res, err := r.RunResult()

			require.NoError(t, err)
			assert.False(t, res.Skipped)
			assert.Equal(t, len(sampleMountinfo), res.BytesWritten)
			assert.Equal(t, release, res.KernelRelease)
			data, err := os.ReadFile(dev)
			require.NoError(t, err)
			assert.Equal(t, sampleMountinfo, string(data))
		})
	}
}

func TestRelay_UnrecognizedVersion(t *testing.T) {
	for _, release := range []string{"abc", "5.10", "", "6"} {
		t.Run(release, func(t *testing.T) {
			r, dev := newTestRelay(t, release)

			err := r.Run()

			require.Error(t, err)
			assert.Equal(t, UnrecognizedVersion, KindOf(err))
			assert.Equal(t, aerrors.ErrCodeUnrecognizedVersion, aerrors.GetCode(err))
			data, _ := os.ReadFile(dev)
			assert.Empty(t, data)
		})
	}
}

func TestRelay_UnameFailure(t *testing.T) {
	r, _ := newTestRelay(t, "")
	r.Release = func() (string, error) { return "", errors.New("uname: operation not permitted") }

	err := r.Run()

	require.Error(t, err)
	assert.Equal(t, UnameFail, KindOf(err))
}

func TestRelay_MissingSource(t *testing.T) {
	r, _ := newTestRelay(t, "5.10.0")
	r.SourcePath = filepath.Join(t.TempDir(), "missing")

	err := r.Run()

	require.Error(t, err)
	assert.Equal(t, OpenSrcFileFail, KindOf(err))
}

func TestRelay_MissingDeviceIsNotCreated(t *testing.T) {
	// Given: the kernel module has not created its device
	r, _ := newTestRelay(t, "5.10.0")
	r.DevicePath = filepath.Join(t.TempDir(), "driver_set_info")

	// When: running the relay
	err := r.Run()

	// Then: it fails with a retryable open error and leaves no file behind
	require.Error(t, err)
	assert.Equal(t, OpenDstFileFail, KindOf(err))
	assert.True(t, aerrors.IsRetryable(err))
	_, statErr := os.Stat(r.DevicePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRelay_DeviceNotWritable(t *testing.T) {
	r, _ := newTestRelay(t, "6.0.0")
	r.DevicePath = t.TempDir() // a directory cannot be opened for writing

	err := r.Run()

	require.Error(t, err)
	assert.Equal(t, OpenDstFileFail, KindOf(err))
}

func TestRelay_WriteFailure(t *testing.T) {
	// Given: a device that accepts opens but refuses every byte
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	r, _ := newTestRelay(t, "5.10.0")
	r.DevicePath = "/dev/full"

	// When: running the relay
	res, err := r.RunResult()

	// Then: the write failure is reported with nothing written
	require.Error(t, err)
	assert.Equal(t, WriteDstFileFail, KindOf(err))
	assert.Equal(t, aerrors.ErrCodeWriteDeviceFail, aerrors.GetCode(err))
	assert.Equal(t, "WriteDstFileFail", res.Status)
	assert.Equal(t, 0, res.BytesWritten)
}

func TestRelay_NonNumericMinorSkips(t *testing.T) {
	// Given: a release whose minor field is not a whole number
	r, dev := newTestRelay(t, "5.10rc.x")

	// When: running the relay
	res, err := r.RunResult()

	// Then: the minor counts as zero, so the kernel does not need the relay
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	data, _ := os.ReadFile(dev)
	assert.Empty(t, data)
}

func TestParseRelease(t *testing.T) {
	tests := []struct {
		release      string
		major, minor int
		ok           bool
	}{
		{"5.10.0", 5, 10, true},
		{"5.4.0-150-generic", 5, 4, true},
		{"6.18.44-fc-v130", 6, 18, true},
		{"4.19rc.1", 4, 0, true},
		{"5.10rc.x", 5, 0, true},
		{"5-rc.10.0", 0, 10, true},
		{"x.y.z", 0, 0, true},
		{"5.10", 0, 0, false},
		{"abc", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.release, func(t *testing.T) {
			major, minor, ok := ParseRelease(tt.release)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.major, major)
			assert.Equal(t, tt.minor, minor)
		})
	}
}

func TestNeedsRelay(t *testing.T) {
	assert.False(t, NeedsRelay(4, 20))
	assert.False(t, NeedsRelay(5, 9))
	assert.True(t, NeedsRelay(5, 10))
	assert.True(t, NeedsRelay(6, 0))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Success, KindOf(nil))
	assert.Equal(t, Unknown, KindOf(errors.New("not from a relay run")))
	assert.Equal(t, "Unknown", Unknown.String())
	assert.Equal(t, WriteDstFileFail, KindOf(aerrors.New(aerrors.ErrCodeWriteDeviceFail, "short", nil)))
	assert.Equal(t, "OpenSrcFileFail", OpenSrcFileFail.String())
}
