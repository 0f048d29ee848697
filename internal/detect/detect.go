package detect

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/pic18-flasher/internal/flasher"
	"github.com/bigbag/pic18-flasher/internal/icsp"
	"github.com/bigbag/pic18-flasher/internal/serial"
)

// ErrNoTarget is returned when the bridge answers but no PIC18 is attached.
var ErrNoTarget = errors.New("bridge answered but no target is attached")

// Result represents a detected bridge and target.
type Result struct {
	Port       string
	DeviceID   uint16
	Revision   uint16
	DeviceName string
}

// Options controls how ports are probed.
type Options struct {
	BaudRate int
	Timeout  time.Duration
	// Reset pulses DTR before probing and waits Settle for the bridge.
	Reset  bool
	Settle time.Duration
}

// DetectDevice tries to find a bridge with a target on available ports.
// Returns the first one found, or an error.
func DetectDevice(opts Options) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := tryPort(portName, opts)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no PIC18 device found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no PIC18 device found")
}

// DetectOnPort probes a specific port.
func DetectOnPort(portName string, opts Options) (*Result, error) {
	return tryPort(portName, opts)
}

// ListDevices scans all ports and returns every device found.
func ListDevices(opts Options) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := tryPort(portName, opts)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func tryPort(portName string, opts Options) (*Result, error) {
	port, err := serial.Open(portName, opts.BaudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	if opts.Reset {
		if err := port.ResetBridge(opts.Settle); err != nil {
			return nil, fmt.Errorf("failed to reset: %w", err)
		}
	}

	result, err := Probe(port, opts.Timeout)
	if err != nil {
		return nil, err
	}
	result.Port = portName
	return result, nil
}

// Probe identifies the target behind an already open transport.
func Probe(t icsp.Transport, timeout time.Duration) (*Result, error) {
	s := icsp.New(t, icsp.WithTimeout(timeout))
	info, err := flasher.New(s).Info()
	if err != nil {
		return nil, err
	}

	// An absent target reads back as all zeros or all ones.
	if info.DeviceID == 0x0000 || info.DeviceID == 0xFFFF {
		return nil, ErrNoTarget
	}

	return &Result{
		DeviceID:   info.DeviceID,
		Revision:   info.Revision,
		DeviceName: info.Name,
	}, nil
}
