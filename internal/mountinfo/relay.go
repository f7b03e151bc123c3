// Package mountinfo hands the process's mount table to the kernel-resident
// file monitor once at startup.
//
// Kernels from 5.10 on ship a monitor that cannot attribute events to mount
// points by itself; it creates a device node and expects the service to
// write /proc/self/mountinfo into it verbatim. Older kernels need nothing
// and the relay reports success without touching any file.
package mountinfo

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
)

const (
	// DefaultSourcePath is the mount table of the calling process.
	DefaultSourcePath = "/proc/self/mountinfo"

	// DefaultDevicePath is created by the kernel monitor module to receive
	// mount information.
	DefaultDevicePath = "/dev/driver_set_info"
)

// Minimum kernel version whose monitor needs the mount table.
const (
	minMajor = 5
	minMinor = 10
)

// Kind classifies the outcome of a relay run.
type Kind int

const (
	// Success means the table was written or the kernel does not need it.
	Success Kind = iota
	// UnameFail means the kernel release could not be read.
	UnameFail
	// UnrecognizedVersion means the release has fewer than three fields.
	UnrecognizedVersion
	// OpenSrcFileFail means the mount table could not be read.
	OpenSrcFileFail
	// OpenDstFileFail means the device is missing or not writable.
	OpenDstFileFail
	// WriteDstFileFail means the device took fewer bytes than the table holds.
	WriteDstFileFail
	// Unknown is an error that did not come from a relay run.
	Unknown
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case Success:
		return "Success"
	case UnameFail:
		return "UnameFail"
	case UnrecognizedVersion:
		return "UnrecognizedVersion"
	case OpenSrcFileFail:
		return "OpenSrcFileFail"
	case OpenDstFileFail:
		return "OpenDstFileFail"
	case WriteDstFileFail:
		return "WriteDstFileFail"
	case Unknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

var codeKinds = map[string]Kind{
	aerrors.ErrCodeUnameFail:           UnameFail,
	aerrors.ErrCodeUnrecognizedVersion: UnrecognizedVersion,
	aerrors.ErrCodeOpenSourceFail:      OpenSrcFileFail,
	aerrors.ErrCodeOpenDeviceFail:      OpenDstFileFail,
	aerrors.ErrCodeWriteDeviceFail:     WriteDstFileFail,
}

// KindOf maps an error returned by Run to its kind. Nil is Success and an
// error without a relay code is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Success
	}
	if k, ok := codeKinds[aerrors.GetCode(err)]; ok {
		return k
	}
	return Unknown
}

// Relay copies the mount table into the monitor's device.
type Relay struct {
	// SourcePath is read in full. Default: DefaultSourcePath.
	SourcePath string

	// DevicePath must already exist; it is never created. Default: DefaultDevicePath.
	DevicePath string

	// Release returns the running kernel release string. Default: uname(2).
	Release func() (string, error)

	Logger *slog.Logger
}

// Result describes one relay run.
type Result struct {
	Kind          Kind   `json:"-"`
	Status        string `json:"status"`
	KernelRelease string `json:"kernel_release,omitempty"`
	Skipped       bool   `json:"skipped"`
	BytesWritten  int    `json:"bytes_written"`
	Error         string `json:"error,omitempty"`
}

// New returns a relay with default paths.
func New(logger *slog.Logger) *Relay {
	return &Relay{
		SourcePath: DefaultSourcePath,
		DevicePath: DefaultDevicePath,
		Release:    KernelRelease,
		Logger:     logger,
	}
}

// Run performs the relay once. Every failure is returned as a coded error;
// none of them is fatal to the caller.
func (r *Relay) Run() error {
	_, err := r.RunResult()
	return err
}

// RunResult performs the relay once and also reports what it did.
func (r *Relay) RunResult() (Result, error) {
	res, err := r.run()
	res.Kind = KindOf(err)
	res.Status = res.Kind.String()
	if err != nil {
		res.Error = err.Error()
	}
	return res, err
}

func (r *Relay) run() (Result, error) {
	logger := r.logger()
	var res Result

	release, err := r.release()
	if err != nil {
		logger.Warn("uname failed", slog.String("error", err.Error()))
		return res, aerrors.New(aerrors.ErrCodeUnameFail, "cannot determine kernel release", err)
	}
	res.KernelRelease = release
	logger.Debug("kernel release", slog.String("release", release))

	major, minor, ok := ParseRelease(release)
	if !ok {
		logger.Warn("unrecognized kernel version format, expect x.y.z", slog.String("release", release))
		return res, aerrors.New(aerrors.ErrCodeUnrecognizedVersion,
			fmt.Sprintf("unrecognized kernel release %q", release), nil)
	}

	if !NeedsRelay(major, minor) {
		res.Skipped = true
		return res, nil
	}

	src := r.SourcePath
	if src == "" {
		src = DefaultSourcePath
	}
	data, err := os.ReadFile(src)
	if err != nil {
		logger.Warn("open mount table failed", slog.String("path", src), slog.String("error", err.Error()))
		return res, aerrors.New(aerrors.ErrCodeOpenSourceFail,
			fmt.Sprintf("open %s failed", src), err).WithDetail("path", src)
	}

	dst := r.DevicePath
	if dst == "" {
		dst = DefaultDevicePath
	}
	// No O_CREATE: the device belongs to the kernel monitor.
	f, err := os.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		logger.Warn("open relay device failed", slog.String("path", dst), slog.String("error", err.Error()))
		return res, aerrors.New(aerrors.ErrCodeOpenDeviceFail,
			fmt.Sprintf("open %s failed", dst), err).
			WithDetail("path", dst).
			WithSuggestion("is the vfs monitor kernel module loaded?")
	}
	defer f.Close()

	n, err := f.Write(data)
	res.BytesWritten = n
	if n != len(data) {
		if err == nil {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(data))
		}
		logger.Warn("write relay device failed", slog.String("path", dst), slog.String("error", err.Error()))
		return res, aerrors.New(aerrors.ErrCodeWriteDeviceFail,
			fmt.Sprintf("write %s failed", dst), err).WithDetail("path", dst)
	}

	logger.Debug("write mountinfo success", slog.Int("bytes", n))
	return res, nil
}

func (r *Relay) release() (string, error) {
	if r.Release != nil {
		return r.Release()
	}
	return KernelRelease()
}

func (r *Relay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// NeedsRelay reports whether a kernel of this version expects the mount
// table on the monitor device.
func NeedsRelay(major, minor int) bool {
	return major > minMajor || (major == minMajor && minor >= minMinor)
}

// KernelRelease returns the release field of uname(2).
func KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// ParseRelease extracts the major and minor version from a kernel release
// such as "5.10.0-amd64-desktop". At least three dot-separated fields are
// required. The first two fields must be whole decimal numbers; a field
// that is not, such as "10rc", counts as zero.
func ParseRelease(release string) (major, minor int, ok bool) {
	parts := strings.Split(release, ".")
	if len(parts) < 3 {
		return 0, 0, false
	}
	return fieldInt(parts[0]), fieldInt(parts[1]), true
}

func fieldInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
