// Package serial connects to the ICSP bridge over a USB serial adapter.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const idleReadTimeout = 100 * time.Millisecond

// Port wraps a serial port connected to the ICSP bridge.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate, 8N1.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(idleReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// ReadWithTimeout reads data with a specific timeout. It returns 0 bytes
// and a nil error if nothing arrives in time.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(idleReadTimeout)

	return p.port.Read(buf)
}

// Flush discards any buffered data.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// ResetBridge pulses DTR to restart the bridge microcontroller, waits
// for it to come up and drops whatever it printed while booting.
func (p *Port) ResetBridge(settle time.Duration) error {
	if err := p.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.SetDTR(true); err != nil {
		return err
	}

	time.Sleep(settle)
	return p.Flush()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}

// PortInfo describes a serial port and, for USB adapters, its identity.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// String formats the port for listings.
func (pi PortInfo) String() string {
	if !pi.IsUSB {
		return pi.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", pi.Name, pi.VID, pi.PID)
	if pi.Product != "" {
		s += " " + pi.Product
	}
	if pi.SerialNumber != "" {
		s += " (" + pi.SerialNumber + ")"
	}
	return s
}

// ListPortDetails returns available ports with USB identification where
// the platform provides it.
func ListPortDetails() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return infos, nil
}
