// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical data always
// produces identical bytes, which matters here because connect
// frames and observation frames are small enough that a byte-stable
// encoding makes wire captures directly diffable across agents.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility: an
// agent on a newer protocol version can add frame fields without
// breaking an older relayd build.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Attributes/Params fields on event and error frames decode
		// into map[string]any. CBOR allows non-string map
		// keys, so its default target type is
		// map[interface{}]interface{}; that's incompatible with
		// encoding/json and with the reservoir types' map[string]any
		// fields. Agents never send non-string keys, so this setting
		// only narrows the any-typed decode target — struct field
		// decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value. The listener decodes a
// frame's envelope first and its typed payload second; RawMessage is
// what lets the envelope decode delay the payload decode until its
// Kind is known.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w using the
// standard Core Deterministic Encoding configuration. The listener's
// connection handler uses one per connection to write connect replies.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r using the
// standard decoding configuration. CBOR is self-delimiting, so one
// decoder reused across repeated Decode calls on the same connection
// reads a stream of frames with no separate length prefix.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
