package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/gousb"
)

const (
	BitaxeRawVID gousb.ID = 0xc0de
	BitaxeRawPID gousb.ID = 0xcafe

	SerialByIDDir = "/dev/serial/by-id"
)

type USBInfo struct {
	VID          gousb.ID
	PID          gousb.ID
	Bus          int
	Address      int
	SerialNumber string
	Description  string
}

// DiscoverUSB lists attached devices matching vid:pid.
func DiscoverUSB(vid, pid gousb.ID) ([]USBInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vid && desc.Product == pid
	})
	// devices we could not open are still returned by OpenDevices
	if err != nil && !errors.Is(err, gousb.ErrorAccess) && len(devs) == 0 {
		return nil, fmt.Errorf("usb enumerate %s:%s: %w", vid, pid, err)
	}

	infos := make([]USBInfo, 0, len(devs))
	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		infos = append(infos, USBInfo{
			VID:          dev.Desc.Vendor,
			PID:          dev.Desc.Product,
			Bus:          dev.Desc.Bus,
			Address:      dev.Desc.Address,
			SerialNumber: serial,
			Description:  strings.TrimSpace(manufacturer + " " + product),
		})
		dev.Close()
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Bus != infos[j].Bus {
			return infos[i].Bus < infos[j].Bus
		}
		return infos[i].Address < infos[j].Address
	})
	return infos, nil
}

// SerialDescriptors finds the control (interface 0) and data (interface 2)
// tty nodes udev created for a device under dir.
func SerialDescriptors(dir string, info USBInfo, baud int) (control, data Descriptor, err error) {
	if info.SerialNumber == "" {
		return control, data, fmt.Errorf("device %d:%d has no serial number", info.Bus, info.Address)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return control, data, err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.Contains(name, info.SerialNumber) {
			continue
		}
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, "-if00"):
			control = Descriptor{Path: path, Baud: baud}
		case strings.HasSuffix(name, "-if02"):
			data = Descriptor{Path: path, Baud: baud}
		}
	}
	if control.Empty() || data.Empty() {
		return Descriptor{}, Descriptor{}, fmt.Errorf("serial nodes for %s not found in %s", info.SerialNumber, dir)
	}
	return control, data, nil
}
