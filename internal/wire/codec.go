package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wanjg/Jupiter/internal/model"
)

type decoderState int

const (
	stateHeader decoderState = iota
	stateBody
)

// Frame is one fully decoded inbound frame. Exactly one of Message or Ack is
// set; a heartbeat carries no payload and the Decoder produces no Frame for
// it.
type Frame struct {
	Sign    Sign
	Message *Message
	Ack     *Acknowledge
}

// Decoder is a replay-safe {HEADER, BODY} state machine: Feed may be called
// with arbitrarily small or large chunks (including single bytes spanning a
// frame boundary) and never reprocesses or loses bytes already consumed.
// This is what makes decoding over arbitrary byte-boundary splits of a valid
// frame equivalent to decoding it whole.
type Decoder struct {
	ser   Serializer
	state decoderState
	buf   bytes.Buffer
	hdr   Header
}

// NewDecoder builds a Decoder around a Serializer used to decode frame
// bodies.
func NewDecoder(ser Serializer) *Decoder {
	if ser == nil {
		ser = JSONSerializer{}
	}
	return &Decoder{ser: ser}
}

// Feed appends data to the decoder's internal buffer and returns every frame
// that became complete as a result. An error aborts decoding and means
// the caller must fail (close) the connection; no further Feed calls
// should be made on a Decoder that has returned an error.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	if len(data) > 0 {
		d.buf.Write(data)
	}

	var frames []Frame
	for {
		if d.state == stateHeader {
			if d.buf.Len() < HeaderLength {
				return frames, nil
			}
			hdr, err := parseHeader(d.buf.Next(HeaderLength))
			if err != nil {
				return frames, err
			}
			d.hdr = hdr
			d.state = stateBody
		}

		if d.hdr.BodyLength < 0 {
			return frames, errDecodeFailure(fmt.Errorf("negative body length %d", d.hdr.BodyLength))
		}
		if d.buf.Len() < int(d.hdr.BodyLength) {
			return frames, nil
		}

		body := d.buf.Next(int(d.hdr.BodyLength))
		bodyCopy := append([]byte(nil), body...)
		frame, err := d.decodeBody(d.hdr.Sign, bodyCopy)
		if err != nil {
			return frames, err
		}
		if frame != nil {
			frames = append(frames, *frame)
		}
		d.state = stateHeader
	}
}

func (d *Decoder) decodeBody(sign Sign, body []byte) (*Frame, error) {
	switch sign {
	case SignHeartbeat:
		// No message produced; the frame is consumed and decoding moves on.
		return nil, nil
	case SignPublishService, SignUnPublishService:
		seq, ver, data, err := decodeTypedBody[model.RegisterMeta](d.ser, body)
		if err != nil {
			return nil, errDecodeFailure(err)
		}
		return &Frame{Sign: sign, Message: &Message{Sign: sign, Sequence: seq, Version: ver, Data: data}}, nil
	case SignSubscribeService:
		seq, ver, data, err := decodeTypedBody[model.ServiceMeta](d.ser, body)
		if err != nil {
			return nil, errDecodeFailure(err)
		}
		return &Frame{Sign: sign, Message: &Message{Sign: sign, Sequence: seq, Version: ver, Data: data}}, nil
	case SignAck:
		var ack Acknowledge
		if err := d.ser.Decode(body, &ack); err != nil {
			return nil, errDecodeFailure(err)
		}
		return &Frame{Sign: sign, Ack: &ack}, nil
	default:
		return nil, errIllegalSign(sign)
	}
}

func parseHeader(b []byte) (Header, error) {
	magic := binary.BigEndian.Uint16(b[0:2])
	if magic != Magic {
		return Header{}, errIllegalMagic(magic)
	}
	return Header{
		Magic:      magic,
		Sign:       Sign(b[2]),
		Reserved:   b[3],
		ID:         binary.BigEndian.Uint64(b[4:12]),
		BodyLength: int32(binary.BigEndian.Uint32(b[12:16])),
	}, nil
}

// Encoder writes frames for outbound messages and acks.
//
// It always writes id = 0, ignoring Message.Sequence, matching the source
// behaviour preserved here for wire compatibility (see DESIGN.md):
// correlation relies entirely on the body-encoded sequence,
// never the header id.
type Encoder struct {
	ser Serializer
}

// NewEncoder builds an Encoder around a Serializer used to encode frame
// bodies.
func NewEncoder(ser Serializer) *Encoder {
	if ser == nil {
		ser = JSONSerializer{}
	}
	return &Encoder{ser: ser}
}

// EncodeMessage encodes m into a complete frame. m.Data must be one of
// model.RegisterMeta, model.ServiceMeta, or ProvidersPush.
func (e *Encoder) EncodeMessage(m Message) ([]byte, error) {
	var body []byte
	var err error
	switch data := m.Data.(type) {
	case model.RegisterMeta:
		body, err = encodeTypedBody(e.ser, m.Sequence, m.Version, data)
	case model.ServiceMeta:
		body, err = encodeTypedBody(e.ser, m.Sequence, m.Version, data)
	case ProvidersPush:
		body, err = encodeTypedBody(e.ser, m.Sequence, m.Version, data)
	default:
		return nil, fmt.Errorf("wire: unsupported message data type %T", m.Data)
	}
	if err != nil {
		return nil, err
	}
	return frameBytes(m.Sign, 0, body), nil
}

// EncodeAck encodes an ACK frame echoing sequence.
func (e *Encoder) EncodeAck(sequence uint64) ([]byte, error) {
	body, err := e.ser.Encode(Acknowledge{Sequence: sequence})
	if err != nil {
		return nil, err
	}
	return frameBytes(SignAck, 0, body), nil
}

// DecodePushBody decodes the body of a server push frame (sign
// PUBLISH_SERVICE carrying a ProvidersPush) — used by consumers of the
// registry's pushes rather than by the registry server's own inbound
// decoder, which always treats PUBLISH_SERVICE as an inbound RegisterMeta.
func DecodePushBody(ser Serializer, body []byte) (sequence uint64, version int64, push ProvidersPush, err error) {
	if ser == nil {
		ser = JSONSerializer{}
	}
	return decodeTypedBody[ProvidersPush](ser, body)
}

func frameBytes(sign Sign, id uint64, body []byte) []byte {
	buf := make([]byte, HeaderLength+len(body))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = byte(sign)
	buf[3] = 0
	binary.BigEndian.PutUint64(buf[4:12], id)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(body)))
	copy(buf[16:], body)
	return buf
}
