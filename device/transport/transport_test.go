package transport

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asic_miner/device/hwerr"
)

func TestPipePassThrough(t *testing.T) {
	a, b := Pipe("t")
	defer a.Close()

	_, err := a.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	_, err = a.Write([]byte{4})
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := b.Read(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])
}

func TestPipeReadTimeout(t *testing.T) {
	a, _ := Pipe("t")
	buf := make([]byte, 4)

	_, err := a.Read(buf, 0)
	assert.ErrorIs(t, err, hwerr.ErrTimeout)

	start := time.Now()
	_, err = a.Read(buf, 20*time.Millisecond)
	assert.ErrorIs(t, err, hwerr.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPipeWakesReader(t *testing.T) {
	a, b := Pipe("t")
	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Write([]byte{0xaa})
	}()
	buf := make([]byte, 4)
	n, err := b.Read(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPipeClosed(t *testing.T) {
	a, b := Pipe("t")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.Write([]byte{1})
	assert.ErrorIs(t, err, hwerr.ErrClosed)
	_, err = b.Read(make([]byte, 1), time.Second)
	assert.ErrorIs(t, err, hwerr.ErrClosed)
}

func TestDrain(t *testing.T) {
	a, b := Pipe("t")
	a.Write(make([]byte, 600))
	assert.Equal(t, 600, Drain(b))
	assert.Equal(t, 0, Drain(b))
}

type trackingOpener struct {
	fail   map[string]bool
	opened map[string]Port
}

func (my *trackingOpener) open(d Descriptor) (Port, error) {
	if my.fail[d.Path] {
		return nil, &hwerr.IoError{Op: "open", Path: d.Path, Err: os.ErrNotExist}
	}
	p, _ := Pipe(d.Path)
	my.opened[d.Path] = p
	return p, nil
}

func closed(p Port) bool {
	_, err := p.Write([]byte{0})
	return errors.Is(err, hwerr.ErrClosed)
}

func TestOpenDualAtomic(t *testing.T) {
	o := &trackingOpener{fail: map[string]bool{"data": true}, opened: map[string]Port{}}
	d, err := OpenDualWith(o.open, Descriptor{Path: "ctl"}, Descriptor{Path: "data"})
	assert.Nil(t, d)
	assert.ErrorIs(t, err, hwerr.ErrIo)
	require.Contains(t, o.opened, "ctl")
	assert.True(t, closed(o.opened["ctl"]))
}

func TestOpenDualControlFails(t *testing.T) {
	o := &trackingOpener{fail: map[string]bool{"ctl": true}, opened: map[string]Port{}}
	_, err := OpenDualWith(o.open, Descriptor{Path: "ctl"}, Descriptor{Path: "data"})
	assert.Error(t, err)
	assert.Empty(t, o.opened)
}

func TestOpenDualSingleChannel(t *testing.T) {
	o := &trackingOpener{opened: map[string]Port{}}
	d, err := OpenDualWith(o.open, Descriptor{}, Descriptor{Path: "data"})
	require.NoError(t, err)
	assert.Nil(t, d.Control)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, closed(o.opened["data"]))

	_, err = OpenDualWith(o.open, Descriptor{Path: "ctl"}, Descriptor{})
	assert.ErrorIs(t, err, ErrNoDataChannel)
}

func TestSerialDescriptors(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"usb-OSMU_Bitaxe_ABC123-if00",
		"usb-OSMU_Bitaxe_ABC123-if02",
		"usb-OSMU_Bitaxe_ZZZ999-if00",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	ctl, data, err := SerialDescriptors(dir, USBInfo{SerialNumber: "ABC123"}, 115200)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "usb-OSMU_Bitaxe_ABC123-if00"), ctl.Path)
	assert.Equal(t, filepath.Join(dir, "usb-OSMU_Bitaxe_ABC123-if02"), data.Path)
	assert.Equal(t, 115200, data.Baud)

	_, _, err = SerialDescriptors(dir, USBInfo{SerialNumber: "ZZZ999"}, 115200)
	assert.Error(t, err)
	_, _, err = SerialDescriptors(dir, USBInfo{}, 115200)
	assert.Error(t, err)
}
