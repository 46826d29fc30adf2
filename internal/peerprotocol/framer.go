package peerprotocol

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ReadFrame reads one length-prefixed frame from r and parses it. A
// zero-length frame is a keep-alive.
func ReadFrame(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAliveMessage(), nil
	}
	if length > MaxMessageLength {
		return Message{}, ErrOversizeMessage
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	return ParseBody(MessageID(body[0]), body[1:])
}

// WriteFrame serializes and writes m to w in one call.
func WriteFrame(w io.Writer, m Message) error {
	var buf bytes.Buffer
	if err := m.WriteTo(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
