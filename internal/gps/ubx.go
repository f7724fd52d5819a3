package gps

// u-blox UBX configuration commands sent once after a receiver connects.
//
// CFG-MSG (class 0x06, id 0x01) with a 3-byte payload sets the output rate of
// one NMEA message on the current port:
//
//	B5 62 | 06 01 | 03 00 | F0 <msgID> <rate> | ckA ckB
const (
	ubxSync1    = 0xB5
	ubxSync2    = 0x62
	ubxClassCFG = 0x06
	ubxIDMsg    = 0x01
	ubxIDRate   = 0x08
	nmeaClass   = 0xF0
)

// Standard NMEA message ids in class 0xF0.
const (
	nmeaGGA = 0x00
	nmeaGLL = 0x01
	nmeaGSA = 0x02
	nmeaGSV = 0x03
	nmeaRMC = 0x04
	nmeaVTG = 0x05
	nmeaGRS = 0x06
	nmeaGST = 0x07
	nmeaZDA = 0x08
	nmeaGBS = 0x09
	nmeaDTM = 0x0A
	nmeaGNS = 0x0D
	nmeaVLW = 0x0F
)

var configuredMessages = []byte{
	nmeaGGA, nmeaGLL, nmeaGSA, nmeaGSV, nmeaRMC, nmeaVTG, nmeaGRS,
	nmeaGST, nmeaZDA, nmeaGBS, nmeaDTM, nmeaGNS, nmeaVLW,
}

// ubxChecksum is the 8-bit Fletcher checksum over class, id, length and payload.
func ubxChecksum(msg []byte) (byte, byte) {
	var a, b byte
	for _, c := range msg {
		a += c
		b += a
	}
	return a, b
}

func makeUBX(class, id byte, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = append(out, ubxSync1, ubxSync2, class, id, byte(len(payload)), byte(len(payload)>>8))
	out = append(out, payload...)
	a, b := ubxChecksum(out[2:])
	return append(out, a, b)
}

// MessageRateCommand builds the 11-byte CFG-MSG command for one NMEA message.
func MessageRateCommand(msgID byte, rate byte) []byte {
	return makeUBX(ubxClassCFG, ubxIDMsg, []byte{nmeaClass, msgID, rate})
}

// NavRateCommand builds CFG-RATE for the given navigation rate. Returns nil
// for rates the receivers do not support.
func NavRateCommand(hz int) []byte {
	if hz <= 0 || hz > 10 {
		return nil
	}
	ms := uint16(1000 / hz)
	// measRate, navRate=1, timeRef=1 (GPS time); little endian.
	return makeUBX(ubxClassCFG, ubxIDRate, []byte{byte(ms), byte(ms >> 8), 0x01, 0x00, 0x01, 0x00})
}

// ConfigCommands enables GGA and VTG on every cycle and disables the other
// standard NMEA messages. navRateHz <= 0 leaves the receiver's rate alone.
func ConfigCommands(navRateHz int) [][]byte {
	cmds := make([][]byte, 0, len(configuredMessages)+1)
	for _, id := range configuredMessages {
		rate := byte(0)
		if id == nmeaGGA || id == nmeaVTG {
			rate = 1
		}
		cmds = append(cmds, MessageRateCommand(id, rate))
	}
	if c := NavRateCommand(navRateHz); c != nil {
		cmds = append(cmds, c)
	}
	return cmds
}
