package log

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// fileMagic is the CBOR self-describe tag (55799) written once at the
// start of every event log file. Readers accept files without it.
var fileMagic = []byte{0xd9, 0xd9, 0xf7}

var (
	eventEncMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})

	// Unknown keys are skipped so older readers can open newer files.
	eventDecMode = mustDecMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxNestedLevels:   16,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: invalid CBOR encoder options: %v", err))
	}
	return mode
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	mode, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: invalid CBOR decoder options: %v", err))
	}
	return mode
}

// EncodeEvent encodes a single event. Struct fields use integer keys.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEncMode.Marshal(event)
}

// DecodeEvent decodes a single event, with or without a leading
// self-describe tag.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := eventDecMode.Unmarshal(bytes.TrimPrefix(data, fileMagic), &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// writeMagic starts a new event stream.
func writeMagic(w io.Writer) error {
	_, err := w.Write(fileMagic)
	return err
}
