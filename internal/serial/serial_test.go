package serial

import "testing"

func TestPortInfo_String(t *testing.T) {
	tests := []struct {
		name string
		info PortInfo
		want string
	}{
		{
			name: "plain port",
			info: PortInfo{Name: "/dev/ttyS0"},
			want: "/dev/ttyS0",
		},
		{
			name: "usb adapter",
			info: PortInfo{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
			want: "/dev/ttyACM0 [2341:0043]",
		},
		{
			name: "usb adapter with product and serial",
			info: PortInfo{
				Name:         "/dev/ttyUSB0",
				IsUSB:        true,
				VID:          "1A86",
				PID:          "7523",
				Product:      "USB Serial",
				SerialNumber: "A50285BI",
			},
			want: "/dev/ttyUSB0 [1A86:7523] USB Serial (A50285BI)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
