package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/internal/sink"
	"github.com/spf13/cobra"
)

// CreatePacketCmd creates the packet command.
func CreatePacketCmd() *cobra.Command {
	var showPayload bool

	cmd := &cobra.Command{
		Use:   "packet <file>...",
		Short: "Decode the packet framing in captured frames",
		Long: `Parses the packet header and trailer at the start of each file. ` +
			`Files written by the PPM sink are accepted; their pixel map header is skipped.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logger := logging.GetLogger("main")

			failed := false
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err == nil {
					err = DescribePacket(os.Stdout, path, data, showPayload)
				}
				if err != nil {
					logger.Error("Failed to decode packet", "file", path, "error", err)
					failed = true
				}
			}
			if failed {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&showPayload, "payload", false, "Hex dump the packet payload")

	return cmd
}

// DescribePacket prints the packet found in data, skipping a leading PPM
// header if there is one.
func DescribePacket(w io.Writer, name string, data []byte, showPayload bool) error {
	if bytes.HasPrefix(data, []byte("P6")) {
		src := bytes.NewReader(data)
		r := bufio.NewReader(src)
		if _, err := sink.DecodePPMHeader(r); err != nil {
			return err
		}
		data = data[len(data)-src.Len()-r.Buffered():]
	}

	p, err := sink.ParsePacket(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "   SOF:       % X\n", p.SOF)
	fmt.Fprintf(w, "   Packet ID: %d\n", p.ID)
	fmt.Fprintf(w, "   Data type: %#02x\n", p.DataType)
	fmt.Fprintf(w, "   Length:    %d\n", len(p.Payload))
	fmt.Fprintf(w, "   Phase ID:  %d\n", p.PhaseID)
	fmt.Fprintf(w, "   Reserved:  %#02x\n", p.Reserved)
	fmt.Fprintf(w, "   EOF:       % X\n", p.EOF)
	if showPayload {
		fmt.Fprintf(w, "   Payload:   % X\n", p.Payload)
	}
	return nil
}
