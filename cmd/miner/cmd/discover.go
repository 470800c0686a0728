package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/gousb"
	"github.com/spf13/cobra"

	"asic_miner/device/transport"
	"asic_miner/system"
)

var (
	usbVID    uint16
	usbPID    uint16
	serialDir string
	baud      int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List attached hash boards and their serial nodes",
	Long: `Enumerates USB devices with the given vendor and product id and matches
each one to the control (interface 0) and data (interface 2) tty nodes
under the by-id directory.

Examples:
  miner discover
  miner discover --vid 0xc0de --pid 0xcafe --dir /dev/serial/by-id`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	addUSBFlags(discoverCmd)
}

func addUSBFlags(c *cobra.Command) {
	c.Flags().Uint16Var(&usbVID, "vid", uint16(transport.BitaxeRawVID), "USB vendor id")
	c.Flags().Uint16Var(&usbPID, "pid", uint16(transport.BitaxeRawPID), "USB product id")
	c.Flags().StringVar(&serialDir, "dir", transport.SerialByIDDir, "directory of serial by-id links")
	c.Flags().IntVar(&baud, "baud", 115200, "serial baud rate")
}

func inventory() (system.SystemInformation, error) {
	return system.GetSystemInfo(gousb.ID(usbVID), gousb.ID(usbPID), serialDir, baud)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	sys, err := inventory()
	if err != nil {
		return err
	}
	if sys.HashBoardCount == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no devices %04x:%04x found\n", usbVID, usbPID)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BOARD\tBUS:ADDR\tSERIAL\tCONTROL\tDATA\tSTATUS")
	for _, hb := range sys.HashBoardInfo {
		status := "ok"
		if hb.Err != nil {
			status = hb.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d:%d\t%s\t%s\t%s\t%s\n", hb.BoardName, hb.Bus, hb.Address,
			hb.SerialNumber, hb.Control.Path, hb.Data.Path, status)
	}
	return w.Flush()
}
