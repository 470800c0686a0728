package bm13xx

import (
	"strings"
)

// Family describes one chip generation.
type Family struct {
	Name   string
	ChipID uint16
	MinMHz float64
	MaxMHz float64
	Cores  int
}

var (
	BM1366 = Family{Name: "BM1366", ChipID: 0x1366, MinMHz: 50, MaxMHz: 800, Cores: 894}
	BM1368 = Family{Name: "BM1368", ChipID: 0x1368, MinMHz: 50, MaxMHz: 800, Cores: 1276}
	BM1370 = Family{Name: "BM1370", ChipID: 0x1370, MinMHz: 50, MaxMHz: 800, Cores: 2040}
)

var families = []Family{BM1366, BM1368, BM1370}

func LookupFamily(name string) (Family, bool) {
	for _, f := range families {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Family{}, false
}

func (f Family) String() string { return f.Name }
