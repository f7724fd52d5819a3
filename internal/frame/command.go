package frame

import "fmt"

const CommandPayloadLen = 3

// Command is the host frame sent by the platform controller:
// [system status, backlight, alignment].
type Command struct {
	Status    byte `json:"status"`
	Backlight byte `json:"backlight"`
	Alignment byte `json:"alignment"`
}

func EncodeCommand(c Command) []byte {
	return Seal([]byte{c.Status, c.Backlight, c.Alignment})
}

func DecodeCommand(frame []byte) (Command, error) {
	p, err := Open(frame)
	if err != nil {
		return Command{}, err
	}
	return ParseCommandPayload(p)
}

func ParseCommandPayload(p []byte) (Command, error) {
	if len(p) != CommandPayloadLen {
		return Command{}, fmt.Errorf("%w: command payload is %d bytes, want %d", ErrLength, len(p), CommandPayloadLen)
	}
	return Command{Status: p[0], Backlight: p[1], Alignment: p[2]}, nil
}
