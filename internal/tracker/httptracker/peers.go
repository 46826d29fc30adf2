package httptracker

import (
	"encoding/binary"
	"net"

	"github.com/zeebo/bencode"
)

// decodePeers handles both the compact (concatenated 6-byte IPv4 records)
// and the legacy dict-list peer encodings.
func decodePeers(raw bencode.RawMessage) ([]*net.TCPAddr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	// Compact form is a bencoded byte string starting with a digit.
	if raw[0] >= '0' && raw[0] <= '9' {
		var compact string
		if err := bencode.DecodeBytes(raw, &compact); err != nil {
			return nil, err
		}
		return decodeCompact([]byte(compact)), nil
	}

	var dictPeers []struct {
		IP   string `bencode:"ip"`
		Port uint16 `bencode:"port"`
	}
	if err := bencode.DecodeBytes(raw, &dictPeers); err != nil {
		return nil, err
	}
	out := make([]*net.TCPAddr, 0, len(dictPeers))
	for _, p := range dictPeers {
		ip := net.ParseIP(p.IP)
		if ip == nil {
			continue
		}
		out = append(out, &net.TCPAddr{IP: ip, Port: int(p.Port)})
	}
	return out, nil
}

func decodeCompact(b []byte) []*net.TCPAddr {
	n := len(b) / 6
	out := make([]*net.TCPAddr, 0, n)
	for i := 0; i < n; i++ {
		rec := b[i*6 : i*6+6]
		ip := net.IPv4(rec[0], rec[1], rec[2], rec[3])
		port := binary.BigEndian.Uint16(rec[4:6])
		out = append(out, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return out
}
