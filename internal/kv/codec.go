package kv

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gregriff/duet/internal/schemas"
)

// encMode uses Core Deterministic Encoding so the same record always produces the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

type diskMessage struct {
	Id      int64  `cbor:"1,keyasint"`
	From    string `cbor:"2,keyasint"`
	Text    string `cbor:"3,keyasint"`
	At      int64  `cbor:"4,keyasint"` // unix nanoseconds
	Deleted bool   `cbor:"5,keyasint"`
}

type diskProfile struct {
	AvatarRef *string `cbor:"1,keyasint,omitempty"`
	UpdatedAt int64   `cbor:"2,keyasint"`
}

func fromMessage(m schemas.Message) diskMessage {
	return diskMessage{
		Id:      m.Id,
		From:    string(m.From),
		Text:    m.Text,
		At:      m.Timestamp.UnixNano(),
		Deleted: m.Deleted,
	}
}

func (d diskMessage) toMessage() schemas.Message {
	return schemas.Message{
		Id:        d.Id,
		From:      schemas.Identity(d.From),
		Text:      d.Text,
		Timestamp: time.Unix(0, d.At).UTC(),
		Deleted:   d.Deleted,
	}
}
