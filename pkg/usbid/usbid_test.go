package usbid

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `# USB ID Database
#
0403  Future Technology Devices International, Ltd
	6001  FT232 Serial (UART) IC
	6015  Bridge(I2C/SPI/UART/FIFO)
1209  Generic
	0001  pid.codes Test PID
		00  interface line
16c0  Van Ooijen Technische Informatica

C 02  Communications
	02  Abstract (modem)
`

func TestParse(t *testing.T) {
	db, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		vid, pid    uint16
		wantVendor  string
		wantProduct string
	}{
		{"ftdi", 0x0403, 0x6001, "Future Technology Devices International, Ltd", "FT232 Serial (UART) IC"},
		{"pid.codes", 0x1209, 0x0001, "Generic", "pid.codes Test PID"},
		{"vendor only", 0x16C0, 0x05E1, "Van Ooijen Technische Informatica", ""},
		{"unknown", 0xFFFF, 0x0001, "", ""},
		{"class section skipped", 0x16C0, 0x0002, "Van Ooijen Technische Informatica", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := db.Vendor(tt.vid); got != tt.wantVendor {
				t.Errorf("Vendor() = %q, want %q", got, tt.wantVendor)
			}
			if got := db.Product(tt.vid, tt.pid); got != tt.wantProduct {
				t.Errorf("Product() = %q, want %q", got, tt.wantProduct)
			}
		})
	}

	if v, p := db.Len(); v != 3 || p != 3 {
		t.Errorf("Len() = %d, %d; want 3, 3", v, p)
	}
}

func TestDescribe(t *testing.T) {
	db, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		db       *Database
		vid, pid uint16
		want     string
	}{
		{db, 0x1209, 0x0001, "1209:0001 Generic pid.codes Test PID"},
		{db, 0x16C0, 0x0001, "16c0:0001 Van Ooijen Technische Informatica"},
		{db, 0x0001, 0x0002, "0001:0002"},
		{nil, 0x1209, 0x0001, "1209:0001"},
	}
	for _, tt := range tests {
		if got := tt.db.Describe(tt.vid, tt.pid); got != tt.want {
			t.Errorf("Describe(%04x, %04x) = %q, want %q", tt.vid, tt.pid, got, tt.want)
		}
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usb.ids")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := Open(filepath.Join(dir, "missing"), path)
	if err != nil {
		t.Fatal(err)
	}
	if db.Vendor(0x0403) == "" {
		t.Error("database from the second path is empty")
	}

	if _, err := Open(filepath.Join(dir, "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) error = %v", err)
	}
}
