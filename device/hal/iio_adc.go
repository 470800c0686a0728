package hal

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// IioAdc reads an industrial-io ADC from sysfs, e.g. /sys/bus/iio/devices/iio:device0.
type IioAdc struct {
	Dir string
}

func NewIioAdc(dir string) *IioAdc {
	return &IioAdc{Dir: dir}
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

// ReadMillivolts is raw * scale; the per channel scale wins over the shared one.
func (my *IioAdc) ReadMillivolts(ctx context.Context, channel uint8) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := readFloat(filepath.Join(my.Dir, fmt.Sprintf("in_voltage%d_raw", channel)))
	if err != nil {
		return 0, err
	}
	scale, err := readFloat(filepath.Join(my.Dir, fmt.Sprintf("in_voltage%d_scale", channel)))
	if err != nil {
		scale, err = readFloat(filepath.Join(my.Dir, "in_voltage_scale"))
		if err != nil {
			return 0, err
		}
	}
	mv := math.Round(raw * scale)
	if mv < 0 || mv > math.MaxUint16 {
		return 0, fmt.Errorf("adc channel %d: %.0f mV out of range", channel, mv)
	}
	return uint16(mv), nil
}
