package relay

// I2C slave addresses of the bench controllers.
const (
	AddrATmega     uint16 = 0x10
	AddrATtinyFreq uint16 = 0x11
	AddrATtinyVolt uint16 = 0x12
)

// ATmega32 register map.
const (
	RegID     uint8 = 0x00
	RegRelayL uint8 = 0x01
	RegRelayH uint8 = 0x02
	RegLEDL   uint8 = 0x03
	RegLEDH   uint8 = 0x04
	RegADCL   uint8 = 0x05
	RegADCH   uint8 = 0x06
)

// ATtiny45 frequency generator registers. The frequency is a little endian
// uint32 in FREQ0..FREQ3.
const (
	RegFreqID uint8 = 0x00
	RegFreq0  uint8 = 0x01
	RegFreq1  uint8 = 0x02
	RegFreq2  uint8 = 0x03
	RegFreq3  uint8 = 0x04
)

// ATtiny45 voltage controller registers.
const (
	RegVoltID    uint8 = 0x00
	RegVoltMode  uint8 = 0x01
	RegVoltADCLS uint8 = 0x02 // setpoint
	RegVoltADCHS uint8 = 0x03
	RegVoltADCL  uint8 = 0x04 // measured
	RegVoltADCH  uint8 = 0x05
	RegVoltDuty  uint8 = 0x06
)

// Voltage controller modes written to RegVoltMode.
const (
	VoltModeCont uint8 = 0x01
	VoltModeDuty uint8 = 0x02
)
