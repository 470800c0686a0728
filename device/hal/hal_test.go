package hal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gobot.io/x/gobot/sysfs"

	"asic_miner/device/control"
	"asic_miner/device/hwerr"
)

func TestControlSetDelegates(t *testing.T) {
	sim := control.NewSimulator("ctl")
	sim.SetADC(2, 1150)
	sim.AddI2C(0x4c).Regs[0x00] = 50
	set := NewControlSet(control.NewChannel(sim, nil))
	ctx := context.Background()

	require.NoError(t, set.Gpio.SetLevel(ctx, 0, true))
	lvl, err := set.Gpio.Level(ctx, 0)
	require.NoError(t, err)
	assert.True(t, lvl)

	mv, err := set.Adc.ReadMillivolts(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint16(1150), mv)

	b, err := ReadReg(ctx, set.I2c, 0x4c, 0x00, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{50}, b)

	require.NoError(t, WriteReg(ctx, set.I2c, 0x4c, 0x10, 0xaa, 0xbb))
	assert.Equal(t, uint8(0xbb), sim.Reg(0x4c, 0x11))
}

func TestControlErrorsPassThrough(t *testing.T) {
	sim := control.NewSimulator("ctl")
	sim.SetSilent(true)
	ch := control.NewChannel(sim, nil)
	ch.Timeout = 20 * time.Millisecond

	_, err := NewControlAdc(ch).ReadMillivolts(context.Background(), 0)
	var te *hwerr.TimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestCalcPEC(t *testing.T) {
	pec, err := CalcPEC(0x5a, WRITE, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, control.CRC8([]byte{0xb4, 0x01}), pec)

	_, err = CalcPEC(0x80, WRITE, nil)
	assert.Error(t, err)
	_, err = CalcPEC(0x10, 2, nil)
	assert.Error(t, err)

	assert.Equal(t, control.CRC8([]byte{0xb4, 0x8b, 0xb5, 0x10, 0x20}), readPEC(0x5a, []byte{0x8b}, []byte{0x10, 0x20}))
}

func TestIioAdc(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage0_raw"), []byte("2048\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage_scale"), []byte("0.805664062\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage1_raw"), []byte("100\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage1_scale"), []byte("2\n"), 0o600))

	adc := NewIioAdc(dir)
	mv, err := adc.ReadMillivolts(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(1650), mv)

	mv, err = adc.ReadMillivolts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(200), mv)

	_, err = adc.ReadMillivolts(context.Background(), 7)
	assert.Error(t, err)
}

func TestSysfsGpio(t *testing.T) {
	fs := sysfs.NewMockFilesystem([]string{
		"/sys/class/gpio/export",
		"/sys/class/gpio/unexport",
		"/sys/class/gpio/gpio335/value",
		"/sys/class/gpio/gpio335/direction",
	})
	sysfs.SetFilesystem(fs)
	t.Cleanup(func() { sysfs.SetFilesystem(&sysfs.NativeFilesystem{}) })

	g := NewSysfsGpio(map[uint8]int{0: 335})
	require.NoError(t, g.SetLevel(context.Background(), 0, true))
	assert.Equal(t, "out", fs.Files["/sys/class/gpio/gpio335/direction"].Contents)
	assert.Equal(t, "1", fs.Files["/sys/class/gpio/gpio335/value"].Contents)

	require.NoError(t, g.SetLevel(context.Background(), 0, false))
	assert.Equal(t, "0", fs.Files["/sys/class/gpio/gpio335/value"].Contents)

	assert.ErrorIs(t, g.SetLevel(context.Background(), 9, true), ErrUnknownPin)

	require.NoError(t, g.Close())
	assert.Equal(t, "335", fs.Files["/sys/class/gpio/unexport"].Contents)
}
