// Package usbid resolves USB vendor and product IDs to names using the
// usb.ids database distributed with most Linux systems.
//
// Lookups on a nil *Database return empty strings, so callers can carry on
// when no database is installed:
//
//	db, _ := usbid.Open()
//	fmt.Println(db.Describe(0x1209, 0x0001))
package usbid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SearchPaths lists the usual locations of usb.ids.
var SearchPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database maps vendor and product IDs to names. It is read-only after
// Parse and safe for concurrent use.
type Database struct {
	vendors  map[uint16]string
	products map[uint32]string // vid<<16 | pid
}

// Open parses the first readable file among paths, or SearchPaths when
// none are given.
func Open(paths ...string) (*Database, error) {
	if len(paths) == 0 {
		paths = SearchPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		db, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("usb.ids not found: %w", os.ErrNotExist)
}

// Parse reads the usb.ids format. Vendor lines are "vvvv  name", product
// lines are "\tpppp  name" under their vendor. Class and other sections
// after the vendor list are skipped.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
	var vid uint16
	inVendor := false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] != '\t' {
			id, name, ok := splitEntry(line)
			inVendor = ok
			if ok {
				vid = id
				db.vendors[vid] = name
			}
			continue
		}
		if !inVendor {
			continue
		}
		// interface lines under a product start with two tabs and fail here
		if pid, name, ok := splitEntry(line[1:]); ok {
			db.products[uint32(vid)<<16|uint32(pid)] = name
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

func splitEntry(line string) (uint16, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(line[5:]), true
}

// Vendor returns the vendor name, or "" if unknown.
func (db *Database) Vendor(vid uint16) string {
	if db == nil {
		return ""
	}
	return db.vendors[vid]
}

// Product returns the product name, or "" if unknown.
func (db *Database) Product(vid, pid uint16) string {
	if db == nil {
		return ""
	}
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Describe returns "vvvv:pppp" followed by whatever names are known.
func (db *Database) Describe(vid, pid uint16) string {
	s := fmt.Sprintf("%04x:%04x", vid, pid)
	if v := db.Vendor(vid); v != "" {
		s += " " + v
		if p := db.Product(vid, pid); p != "" {
			s += " " + p
		}
	}
	return s
}

// Len returns the number of vendors and products.
func (db *Database) Len() (vendors, products int) {
	if db == nil {
		return 0, 0
	}
	return len(db.vendors), len(db.products)
}
