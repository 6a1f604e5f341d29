package session

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gematik/zero-gate/pkg/oauth2"
)

type Record struct {
	User      *oauth2.Identity `cbor:"user,omitempty"`
	CreatedAt time.Time        `cbor:"created_at"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func marshalRecord(record *Record) ([]byte, error) {
	data, err := encMode.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	return data, nil
}

func unmarshalRecord(data []byte) (*Record, error) {
	var record Record
	if err := cbor.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &record, nil
}
