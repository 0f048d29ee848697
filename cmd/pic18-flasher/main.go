package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/pic18-flasher/internal/detect"
	"github.com/bigbag/pic18-flasher/internal/flasher"
	"github.com/bigbag/pic18-flasher/internal/icsp"
	"github.com/bigbag/pic18-flasher/internal/ihex"
	"github.com/bigbag/pic18-flasher/internal/protocol"
	"github.com/bigbag/pic18-flasher/internal/rows"
	"github.com/bigbag/pic18-flasher/internal/serial"
	"github.com/bigbag/pic18-flasher/internal/sim"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// bridgeSettle is how long the bridge needs after a DTR reset.
const bridgeSettle = 2 * time.Second

var (
	portFlag     string
	baudFlag     int
	timeoutFlag  time.Duration
	resetFlag    bool
	verboseFlag  bool
	verifyFlag   bool
	dryRunFlag   bool
	rowSizeFlag  int
	wordSizeFlag int
	outputFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pic18-flasher",
		Short: "Flash Intel HEX firmware to PIC18 devices over an ICSP bridge",
		Long: `pic18-flasher programs PIC18 microcontrollers through a serial ICSP bridge
using low-voltage programming.

The HEX file is split into 64-word rows. Program memory is written a row at a
time; user ID and configuration words are written and checked one word at a time.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", protocol.DefaultTimeout, "Response timeout")
	rootCmd.PersistentFlags().BoolVar(&resetFlag, "reset", false, "Reset the bridge via DTR before connecting")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log protocol traffic")

	// Flash command
	flashCmd := &cobra.Command{
		Use:   "flash <firmware.hex>",
		Short: "Flash a HEX file to the device",
		Long: `Erase the device and program an Intel HEX file.

Rows at or below 0x20000 go to program memory. Rows at 0x200000 (user ID)
and 0x300000 (configuration) are written word by word and always read back.
Any other address aborts before the device is touched.

Use --dry-run to run the whole sequence against a simulated device.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().BoolVar(&verifyFlag, "verify", false, "Read back program memory after writing")
	flashCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Flash a simulated device instead of real hardware")
	addGeometryFlags(flashCmd)

	// Erase command
	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Bulk-erase the device",
		Args:  cobra.NoArgs,
		RunE:  runErase,
	}

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Detect bridges and show the device ID and revision of the attached PIC18.",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Read configuration words",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}

	// Rows command
	rowsCmd := &cobra.Command{
		Use:   "rows <firmware.hex>",
		Short: "Show how a HEX file is split into rows",
		Args:  cobra.ExactArgs(1),
		RunE:  runRows,
	}
	addGeometryFlags(rowsCmd)

	// Normalize command
	normalizeCmd := &cobra.Command{
		Use:   "normalize <firmware.hex>",
		Short: "Re-encode a HEX file with contiguous records",
		Args:  cobra.ExactArgs(1),
		RunE:  runNormalize,
	}
	normalizeCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (stdout if not specified)")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pic18-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	rootCmd.AddCommand(flashCmd, eraseCmd, infoCmd, configCmd, rowsCmd, normalizeCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addGeometryFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&rowSizeFlag, "row-size", protocol.RowSizeWords, "Row size in words")
	cmd.Flags().IntVar(&wordSizeFlag, "word-size", protocol.WordSize, "Word size in bytes")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if verboseFlag {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	return nil
}

func detectOptions() detect.Options {
	return detect.Options{
		BaudRate: baudFlag,
		Timeout:  timeoutFlag,
		Reset:    resetFlag,
		Settle:   bridgeSettle,
	}
}

// connect opens the bridge port, detecting it if no port was given.
func connect() (*flasher.Flasher, func(), error) {
	portName := portFlag
	if portName == "" {
		fmt.Println("Detecting device...")
		result, err := detect.DetectDevice(detectOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
		fmt.Printf("Found %s on %s\n", result.DeviceName, result.Port)
	}

	port, err := serial.Open(portName, baudFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open port: %w", err)
	}

	if resetFlag {
		if err := port.ResetBridge(bridgeSettle); err != nil {
			port.Close()
			return nil, nil, fmt.Errorf("failed to reset bridge: %w", err)
		}
	}

	fmt.Printf("Port: %s @ %d baud\n", portName, baudFlag)
	return newFlasher(port), func() { port.Close() }, nil
}

func newFlasher(t icsp.Transport) *flasher.Flasher {
	s := icsp.New(t, icsp.WithTimeout(timeoutFlag), icsp.WithLogger(log.Logger))
	return flasher.New(s, flasher.WithLogger(log.Logger))
}

func loadRows(path string) (ihex.Image, []*rows.Row, error) {
	img, err := ihex.DecodeFile(path)
	if err != nil {
		return nil, nil, err
	}
	rs, err := rows.Assemble(img, rowSizeFlag, wordSizeFlag)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("Firmware: %s (%d bytes, %d rows)\n", path, len(img), len(rs))
	return img, rs, nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	_, rs, err := loadRows(args[0])
	if err != nil {
		return err
	}
	if _, err := flasher.Plan(rs); err != nil {
		return err
	}

	var (
		f   *flasher.Flasher
		dev *sim.Device
	)
	if dryRunFlag {
		dev = sim.NewDevice(protocol.DeviceIDPIC18F47K40)
		f = newFlasher(dev)
		fmt.Println("Dry run: using simulated device")
	} else {
		var done func()
		f, done, err = connect()
		if err != nil {
			return err
		}
		defer done()
	}

	bar := progressbar.NewOptions(len(rs),
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	f.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	report, err := f.Flash(rs, verifyFlag)
	bar.Finish()

	var vf *flasher.VerifyFailedError
	if errors.As(err, &vf) {
		fmt.Printf("\nVerification failed for %d word(s):\n", len(vf.Mismatches))
		for _, m := range vf.Mismatches {
			fmt.Printf("  0x%06X: expected 0x%04X, got 0x%04X\n", m.Address, m.Expected, m.Actual)
		}
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nFlash complete: %d rows, %d words\n", report.Rows, report.Words)
	if dev != nil {
		fmt.Printf("Simulated device holds %d programmed bytes\n", dev.Programmed())
	}
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	f, done, err := connect()
	if err != nil {
		return err
	}
	defer done()

	fmt.Println("Erasing...")
	if err := f.Erase(); err != nil {
		return err
	}
	fmt.Println("Done!")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	if portFlag != "" {
		result, err := detect.DetectOnPort(portFlag, detectOptions())
		if err != nil {
			return fmt.Errorf("failed to detect device on %s: %w", portFlag, err)
		}
		printDeviceInfo(result)
		return nil
	}

	fmt.Println("Scanning for PIC18 devices...")
	devices, err := detect.ListDevices(detectOptions())
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No PIC18 devices found")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("Device %d:\n", i+1)
		printDeviceInfo(&d)
		fmt.Println()
	}

	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:      %s\n", d.Port)
	fmt.Printf("  Device:    %s\n", d.DeviceName)
	fmt.Printf("  Device ID: 0x%04X\n", d.DeviceID)
	fmt.Printf("  Revision:  0x%04X\n", d.Revision)
}

func runConfig(cmd *cobra.Command, args []string) error {
	f, done, err := connect()
	if err != nil {
		return err
	}
	defer done()

	words, err := f.ReadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Configuration words:")
	for i, w := range words {
		fmt.Printf("  0x%06X: 0x%04X\n", protocol.ConfigAddress+uint32(i*protocol.WireWordSize), w)
	}
	return nil
}

func runRows(cmd *cobra.Command, args []string) error {
	img, rs, err := loadRows(args[0])
	if err != nil {
		return err
	}

	for _, r := range rs {
		segment := "unrecognized"
		if seg, err := flasher.Route(r); err == nil {
			segment = seg.String()
		}

		words := make([]string, 0, r.Len())
		for _, w := range r.Words() {
			words = append(words, fmt.Sprintf("%0*X", r.WordSize*2, w))
		}
		fmt.Printf("Address: 0x%06X  Segment: %-12s Data: %s\n", r.Address, segment, strings.Join(words, " "))
	}

	if orphans := rows.Orphans(img, wordSizeFlag); len(orphans) > 0 {
		fmt.Printf("Skipped %d byte(s) without a word-aligned address\n", len(orphans))
	}
	return nil
}

func runNormalize(cmd *cobra.Command, args []string) error {
	img, err := ihex.DecodeFile(args[0])
	if err != nil {
		return err
	}

	out := os.Stdout
	if outputFlag != "" {
		file, err := os.Create(outputFlag)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	if err := img.WriteHex(out, ihex.DefaultLineLength); err != nil {
		return fmt.Errorf("failed to write HEX: %w", err)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPortDetails()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
