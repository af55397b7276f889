//go:build linux

package v4l2

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 device node. It owns its descriptor until Close.
// A Device is not safe for concurrent use.
type Device struct {
	path   string
	fd     int
	kernel Kernel
	closed bool
}

// Open opens the device node read-write and non-blocking.
func Open(path string) (*Device, error) {
	return OpenWith(path, System())
}

// OpenWith opens the device node through the given Kernel.
func OpenWith(path string, kernel Kernel) (*Device, error) {
	fd, err := kernel.Open(path, unix.O_RDWR|unix.O_NONBLOCK)
	if err != nil {
		return nil, &OpError{Op: "open", Path: path, Err: err}
	}
	if fd < 0 {
		return nil, &OpError{Op: "open", Path: path, Err: unix.EBADF}
	}
	return &Device{path: path, fd: fd, kernel: kernel}, nil
}

// Path returns the device node path.
func (d *Device) Path() string {
	return d.path
}

// Fd returns the open descriptor.
func (d *Device) Fd() int {
	return d.fd
}

// Ioctl issues a control request, retrying interrupted and try-again
// failures. Any other failure is returned as *OpError naming the request.
func (d *Device) Ioctl(req Request, arg unsafe.Pointer) error {
	if d.closed {
		return &OpError{Op: req.Name, Path: d.path, Err: ErrClosed}
	}
	err := Retry(func() error {
		return d.kernel.Ioctl(d.fd, req.Code(), arg)
	}, Transient...)
	if err != nil {
		return &OpError{Op: req.Name, Path: d.path, Err: err}
	}
	return nil
}

// Close releases the descriptor. Closing twice returns ErrClosed and does
// not reach the kernel, since the number may already belong to another file.
func (d *Device) Close() error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	if err := d.kernel.Close(d.fd); err != nil {
		return &OpError{Op: "close", Path: d.path, Err: err}
	}
	return nil
}

// QueryCapability asks the driver what the device can do.
func (d *Device) QueryCapability() (Capability, error) {
	c := v4l2Capability{}
	if err := d.Ioctl(reqQueryCap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, err
	}

	caps := c.capabilities
	if caps&capDeviceCaps != 0 {
		caps = c.deviceCaps
	}

	return Capability{
		Driver:  cstr(c.driver[:]),
		Card:    cstr(c.card[:]),
		BusInfo: cstr(c.busInfo[:]),
		Caps:    caps,
	}, nil
}

// FindDevices finds all V4L2 video capture devices on the system.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir("/sys/class/video4linux")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	logger := slog.With("component", "v4l2")
	var devices []DeviceInfo

	for _, entry := range entries {
		devicePath := "/dev/" + entry.Name()

		dev, err := Open(devicePath)
		if err != nil {
			logger.Debug("failed to open video device", "path", devicePath, "error", err)
			continue
		}

		capability, err := dev.QueryCapability()
		_ = dev.Close()
		if err != nil {
			logger.Debug("failed to query device capabilities", "path", devicePath, "error", err)
			continue
		}

		// Only include video capture devices
		if capability.Caps&capVideoCapture == 0 {
			continue
		}

		indexPath := filepath.Join("/sys/class/video4linux", entry.Name(), "index")
		indexValue := readSysfsInt(indexPath)

		stableID := findStableID(entry.Name(), indexValue)
		if stableID == "" {
			// Fallback: synthetic ID from bus_info + index
			if strings.HasPrefix(capability.BusInfo, "usb-") {
				stableID = fmt.Sprintf("%s-video-index%d", capability.BusInfo, indexValue)
			} else {
				stableID = fmt.Sprintf("platform-%s-video-index%d", capability.BusInfo, indexValue)
			}
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: capability.Card,
			DeviceID:   stableID,
			Caps:       capability.Caps,
		})
	}

	return devices, nil
}

// ResolveDevice returns path unchanged when it names a node, otherwise it
// looks path up as a stable device ID.
func ResolveDevice(path string) (string, error) {
	if strings.HasPrefix(path, "/") {
		return path, nil
	}

	devices, err := FindDevices()
	if err != nil {
		return "", fmt.Errorf("failed to find devices: %w", err)
	}
	for _, device := range devices {
		if device.DeviceID == path {
			return device.DevicePath, nil
		}
	}
	return "", fmt.Errorf("device with ID %s not found", path)
}

// findStableID looks for a stable ID symlink in /dev/v4l/by-id/
func findStableID(deviceName string, indexValue int) string {
	byIDDir := "/dev/v4l/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	expectedSuffix := fmt.Sprintf("-video-index%d", indexValue)

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
		if err != nil {
			continue
		}

		if filepath.Base(target) == deviceName && strings.HasSuffix(entry.Name(), expectedSuffix) {
			return entry.Name()
		}
	}

	return ""
}

// readSysfsInt reads an integer value from a sysfs file.
func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
