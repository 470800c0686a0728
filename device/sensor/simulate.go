package sensor

import (
	"math"

	"asic_miner/device/control"
)

// SimulateEMC2101 registers an EMC2101 on a control simulator reading tempC
// with the fan spinning at rpm.
func SimulateEMC2101(sim *control.Simulator, addr uint8, tempC float64, rpm float64) {
	dev := sim.AddI2C(addr)
	dev.Regs[emcRegProductID] = emcProductID
	SetSimulatedTemp(sim, addr, tempC)
	count := uint16(emcTachStopped)
	if rpm > 0 {
		count = uint16(math.Min(0xfffe, emcTachScale/rpm))
	}
	dev.Regs[emcRegTachLow] = uint8(count)
	dev.Regs[emcRegTachHigh] = uint8(count >> 8)
}

func SetSimulatedTemp(sim *control.Simulator, addr uint8, tempC float64) {
	whole := math.Floor(tempC)
	frac := uint8((tempC - whole) / 0.125)
	sim.SetReg(addr, emcRegExtTempHigh, uint8(int8(whole)))
	sim.SetReg(addr, emcRegExtTempLow, frac<<5)
	sim.SetReg(addr, emcRegInternalTemp, uint8(int8(whole)))
}

// SimulateTPS546 registers a regulator with VOUT_MODE exponent -9.
func SimulateTPS546(sim *control.Simulator, addr uint8, vin, vout, iout float64) {
	const mode = 0x17
	dev := sim.AddI2C(addr)
	dev.Regs[pmbusVoutMode] = mode
	dev.Words[pmbusReadVin] = EncodeLinear11(vin)
	dev.Words[pmbusReadIout] = EncodeLinear11(iout)
	dev.Words[pmbusReadTemp] = EncodeLinear11(45)
	dev.Words[pmbusReadVout] = EncodeULinear16(vout, mode)
}
