//go:build linux

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var simulate bool
	var sizes bool

	cmd := &cobra.Command{
		Use:   "devices [path...]",
		Short: "List video capture devices and their formats",
		Long: `Lists every V4L2 capture device, or only the given nodes, with the ` +
			`pixel formats each driver offers and, with --sizes, the frame sizes for each format.`,
		Run: func(_ *cobra.Command, args []string) {
			logger := logging.GetLogger("main")

			var kernel v4l2.Kernel
			paths := args
			switch {
			case simulate:
				kernel = v4l2.NewSimulator(v4l2.SimulatorConfig{
					FrameSizes: []v4l2.Resolution{{Width: 640, Height: 480}, {Width: 1280, Height: 720}},
				})
				if len(paths) == 0 {
					paths = []string{"/dev/video0"}
				}
			case len(paths) == 0:
				devices, err := v4l2.FindDevices()
				if err != nil {
					logger.Error("Failed to find devices", "error", err)
					os.Exit(1)
				}
				if len(devices) == 0 {
					fmt.Println("No V4L2 capture devices found.")
					return
				}
				for _, d := range devices {
					paths = append(paths, d.DevicePath)
				}
			}

			failed := false
			for i, path := range paths {
				if i > 0 {
					fmt.Println()
				}
				if err := DescribeDevice(os.Stdout, path, kernel, sizes); err != nil {
					logger.Error("Failed to describe device", "device", path, "error", err)
					failed = true
				}
			}
			if failed {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "Describe a simulated device instead of real hardware")
	cmd.Flags().BoolVar(&sizes, "sizes", false, "Enumerate frame sizes for every format")

	return cmd
}

// DescribeDevice prints the identity and formats of the device at path.
// A nil kernel uses the real system calls.
func DescribeDevice(w io.Writer, path string, kernel v4l2.Kernel, sizes bool) error {
	if kernel == nil {
		kernel = v4l2.System()
	}
	dev, err := v4l2.OpenWith(path, kernel)
	if err != nil {
		return err
	}
	defer dev.Close()

	capability, err := dev.QueryCapability()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "   Card:    %s\n", capability.Card)
	fmt.Fprintf(w, "   Driver:  %s\n", capability.Driver)
	fmt.Fprintf(w, "   Bus:     %s\n", capability.BusInfo)
	fmt.Fprintf(w, "   Capture: %t\n", capability.CanCapture())

	formats, err := v4l2.Formats(dev)
	if err != nil {
		return err
	}
	for _, f := range formats {
		var flags string
		if f.Compressed {
			flags += " compressed"
		}
		if f.Emulated {
			flags += " emulated"
		}
		fmt.Fprintf(w, "   Format %s: %s%s\n", f.PixelFormat, f.FormatName, flags)

		if !sizes {
			continue
		}
		for size, err := range v4l2.EnumFrameSizes(dev, f.PixelFormat) {
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "      %s\n", size)
		}
	}
	return nil
}
