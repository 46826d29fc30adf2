package peerprotocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageID identifies the one-byte message type following the length
// prefix, per BEP 3.
type MessageID byte

const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
)

var (
	ErrOversizeMessage = errors.New("peerprotocol: message exceeds maximum length")
	ErrMalformedBody   = errors.New("peerprotocol: malformed message body")
)

// Message is the parsed form of one wire frame. KeepAlive messages (a
// zero-length frame) are marked by the unexported keepAlive flag; see
// IsKeepAlive.
type Message struct {
	ID      MessageID
	keepAlive bool

	// Have
	HaveIndex uint32

	// Bitfield
	BitfieldBytes []byte

	// Request / Cancel
	Index, Begin, Length uint32

	// Piece
	PieceIndex, PieceBegin uint32
	PieceData              []byte

	// Port
	PortNum uint16
}

// IsKeepAlive reports whether this message was a zero-length keep-alive
// frame rather than a tagged message.
func (m Message) IsKeepAlive() bool { return m.keepAlive }

// KeepAliveMessage constructs a keep-alive frame marker.
func KeepAliveMessage() Message { return Message{keepAlive: true} }

// HaveMessage builds a HAVE message for piece index.
func HaveMessage(index uint32) Message { return Message{ID: Have, HaveIndex: index} }

// BitfieldMessage builds a BITFIELD message from packed bytes.
func BitfieldMessage(b []byte) Message { return Message{ID: Bitfield, BitfieldBytes: b} }

// RequestMessage builds a REQUEST message.
func RequestMessage(index, begin, length uint32) Message {
	return Message{ID: Request, Index: index, Begin: begin, Length: length}
}

// CancelMessage builds a CANCEL message with the same shape as REQUEST.
func CancelMessage(index, begin, length uint32) Message {
	return Message{ID: Cancel, Index: index, Begin: begin, Length: length}
}

// PieceMessage builds a PIECE message carrying block data.
func PieceMessage(index, begin uint32, data []byte) Message {
	return Message{ID: Piece, PieceIndex: index, PieceBegin: begin, PieceData: data}
}

// SimpleMessage builds a payload-less message: choke/unchoke/interested/not-interested.
func SimpleMessage(id MessageID) Message { return Message{ID: id} }

// PortMessage builds a PORT message (accepted, then ignored: no DHT).
func PortMessage(port uint16) Message { return Message{ID: Port, PortNum: port} }

// WriteTo serializes m as a length-prefixed frame.
func (m Message) WriteTo(buf *bytes.Buffer) error {
	if m.keepAlive {
		return binary.Write(buf, binary.BigEndian, uint32(0))
	}
	var body bytes.Buffer
	body.WriteByte(byte(m.ID))
	switch m.ID {
	case Choke, Unchoke, Interested, NotInterested:
		// no payload
	case Have:
		binary.Write(&body, binary.BigEndian, m.HaveIndex)
	case Bitfield:
		body.Write(m.BitfieldBytes)
	case Request, Cancel:
		binary.Write(&body, binary.BigEndian, m.Index)
		binary.Write(&body, binary.BigEndian, m.Begin)
		binary.Write(&body, binary.BigEndian, m.Length)
	case Piece:
		binary.Write(&body, binary.BigEndian, m.PieceIndex)
		binary.Write(&body, binary.BigEndian, m.PieceBegin)
		body.Write(m.PieceData)
	case Port:
		binary.Write(&body, binary.BigEndian, m.PortNum)
	default:
		return fmt.Errorf("peerprotocol: unknown message id %d", m.ID)
	}
	if body.Len() > MaxMessageLength {
		return ErrOversizeMessage
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(body.Len())); err != nil {
		return err
	}
	_, err := buf.Write(body.Bytes())
	return err
}

// MaxMessageLength is the largest accepted frame length (2^18 bytes),
// matching internal/piece.MaxMessageLength; duplicated here so that
// peerprotocol does not import piece.
const MaxMessageLength = 256 * 1024

// MaxRequestLength is the largest accepted REQUEST length (2^17 bytes).
const MaxRequestLength = 128 * 1024

// ParseBody decodes a message body (everything after the length prefix and
// id byte has already been split off by the caller's framer) into a
// Message. id is the byte that followed the length prefix.
func ParseBody(id MessageID, body []byte) (Message, error) {
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		if len(body) != 0 {
			return Message{}, ErrMalformedBody
		}
		return Message{ID: id}, nil
	case Have:
		if len(body) != 4 {
			return Message{}, ErrMalformedBody
		}
		return HaveMessage(binary.BigEndian.Uint32(body)), nil
	case Bitfield:
		cp := make([]byte, len(body))
		copy(cp, body)
		return BitfieldMessage(cp), nil
	case Request, Cancel:
		if len(body) != 12 {
			return Message{}, ErrMalformedBody
		}
		index := binary.BigEndian.Uint32(body[0:4])
		begin := binary.BigEndian.Uint32(body[4:8])
		length := binary.BigEndian.Uint32(body[8:12])
		if id == Request {
			return RequestMessage(index, begin, length), nil
		}
		return CancelMessage(index, begin, length), nil
	case Piece:
		if len(body) < 8 {
			return Message{}, ErrMalformedBody
		}
		index := binary.BigEndian.Uint32(body[0:4])
		begin := binary.BigEndian.Uint32(body[4:8])
		data := make([]byte, len(body)-8)
		copy(data, body[8:])
		return PieceMessage(index, begin, data), nil
	case Port:
		if len(body) != 2 {
			return Message{}, ErrMalformedBody
		}
		return PortMessage(binary.BigEndian.Uint16(body)), nil
	default:
		return Message{}, fmt.Errorf("peerprotocol: unknown message id %d", id)
	}
}
