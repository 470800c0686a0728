// Package system takes the inventory of hash boards attached to the host.
package system

import (
	"fmt"
	"sync"

	"github.com/google/gousb"

	"asic_miner/device/transport"
	"asic_miner/log"
)

// HashBoardInfo is one attached board and the serial nodes it exposes.
type HashBoardInfo struct {
	BoardName    string
	SerialNumber string
	Description  string
	Bus          int
	Address      int
	Control      transport.Descriptor
	Data         transport.Descriptor
	// Err is set when the serial nodes could not be resolved.
	Err error
}

func (my HashBoardInfo) Usable() bool {
	return my.Err == nil && !my.Data.Empty()
}

// SystemInformation lists the boards found, in bus order.
type SystemInformation struct {
	HashBoardCount int
	HashBoardInfo  []HashBoardInfo
}

// Usable returns the boards that can be opened.
func (my *SystemInformation) Usable() []HashBoardInfo {
	var out []HashBoardInfo
	for _, b := range my.HashBoardInfo {
		if b.Usable() {
			out = append(out, b)
		}
	}
	return out
}

// Inventory matches USB devices to their tty nodes under dir.
func Inventory(infos []transport.USBInfo, dir string, baud int) SystemInformation {
	var sysInfo SystemInformation
	for idx, info := range infos {
		hb := HashBoardInfo{
			BoardName:    fmt.Sprintf("hb%d", idx),
			SerialNumber: info.SerialNumber,
			Description:  info.Description,
			Bus:          info.Bus,
			Address:      info.Address,
		}
		hb.Control, hb.Data, hb.Err = transport.SerialDescriptors(dir, info, baud)
		if hb.Err != nil {
			log.Warnf("board %s (%d:%d): %v", hb.BoardName, info.Bus, info.Address, hb.Err)
		}
		sysInfo.HashBoardInfo = append(sysInfo.HashBoardInfo, hb)
	}
	sysInfo.HashBoardCount = len(sysInfo.HashBoardInfo)
	log.Debugf("sysInfo: %+v", sysInfo)
	return sysInfo
}

var (
	cacheMx       sync.Mutex
	cachedSysinfo *SystemInformation
)

// GetSystemInfo enumerates boards with vid:pid once and caches the result.
func GetSystemInfo(vid, pid gousb.ID, dir string, baud int) (SystemInformation, error) {
	cacheMx.Lock()
	defer cacheMx.Unlock()
	if cachedSysinfo != nil {
		return *cachedSysinfo, nil
	}

	infos, err := transport.DiscoverUSB(vid, pid)
	if err != nil {
		return SystemInformation{}, err
	}
	sysInfo := Inventory(infos, dir, baud)
	cachedSysinfo = &sysInfo
	return sysInfo, nil
}

// Forget drops the cached inventory so the next call enumerates again.
func Forget() {
	cacheMx.Lock()
	cachedSysinfo = nil
	cacheMx.Unlock()
}
