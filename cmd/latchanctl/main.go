// Command latchanctl is an operator CLI over the public latchan
// package: create, unlink, chmod, publish and stream channels by hand.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/latchan/latchan"
)

var rootCmd = &cobra.Command{
	Use:   "latchanctl",
	Short: "Inspect and manipulate latchan channels from the command line",
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a named channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frameCount, _ := cmd.Flags().GetUint64("frame-count")
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(frameSizeFlag)); err != nil {
			return fmt.Errorf("invalid --frame-size: %w", err)
		}
		opts := []latchan.CreateOption{}
		if truncateFlag {
			opts = append(opts, latchan.WithTruncate())
		}
		return latchan.Create(args[0], frameCount, sz.Bytes(), opts...)
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink NAME",
	Short: "Remove a named channel's backing file",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return latchan.Unlink(args[0])
	},
}

var chmodCmd = &cobra.Command{
	Use:   "chmod NAME MODE",
	Short: "Change a named channel's file permissions (octal)",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		mode, err := strconv.ParseUint(args[1], 8, 32)
		if err != nil {
			return fmt.Errorf("invalid mode %q: %w", args[1], err)
		}
		h, err := latchan.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()
		return h.Chmod(os.FileMode(mode))
	},
}

var catCmd = &cobra.Command{
	Use:   "cat NAME",
	Short: "Stream frames from a channel to stdout, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		h, err := latchan.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()

		buf := make([]byte, 1<<20)
		for {
			n, err := h.Receive(buf, latchan.ReceiveOptions{Flags: latchan.Wait | latchan.Last})
			if err != nil && err != latchan.ErrMissedFrame {
				return err
			}
			os.Stdout.Write(buf[:n])
			os.Stdout.Write([]byte("\n"))
		}
	},
}

var pubCmd = &cobra.Command{
	Use:   "pub NAME [payload]",
	Short: "Publish one frame; reads stdin if payload is omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		h, err := latchan.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()

		var payload []byte
		if len(args) == 2 {
			payload = []byte(args[1])
		} else {
			data, err := io.ReadAll(bufio.NewReader(os.Stdin))
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			payload = data
		}
		return h.Publish(payload)
	},
}

var (
	truncateFlag  bool
	frameSizeFlag string
)

func init() {
	createCmd.Flags().Uint64("frame-count", 16, "number of index slots")
	createCmd.Flags().StringVar(&frameSizeFlag, "frame-size", "4KB", "max frame size, e.g. 4KB")
	createCmd.Flags().BoolVar(&truncateFlag, "truncate", false, "replace an existing channel file")

	rootCmd.AddCommand(createCmd, unlinkCmd, chmodCmd, catCmd, pubCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}
