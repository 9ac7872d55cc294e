// Package rpc is a request/response and push transport over websocket
// connections. Frames are CBOR encoded.
package rpc

import (
	"github.com/fxamacker/cbor/v2"
)

type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindPush
)

// Frame is the unit sent over a connection in one binary message.
type Frame struct {
	Kind    Kind            `cbor:"1,keyasint"`
	ID      uint64          `cbor:"2,keyasint,omitempty"`
	Method  string          `cbor:"3,keyasint,omitempty"`
	Payload cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Error   *Error          `cbor:"5,keyasint,omitempty"`
}

type RawMessage = cbor.RawMessage

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("rpc: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("rpc: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
