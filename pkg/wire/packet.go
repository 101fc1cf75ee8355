// Package wire implements the on-wire framing for the reliable datagram
// transport: a fixed header plus payload, network byte order, with a
// 16-bit Internet checksum over the declared packet length.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSizeBaseline is the header length for the baseline variant (part A): no
// receiver-advertised window.
const HeaderSizeBaseline = 12

// HeaderSizeExtended is the header length for the extended variant (part
// B), which carries a 32-bit rwnd field.
const HeaderSizeExtended = 16

// ErrGarbage is returned by Decode for any datagram that cannot possibly be
// one of our packets: truncated below header size, a declared length below
// the header size or beyond the received datagram, or a failed checksum.
var ErrGarbage = errors.New("wire: garbage datagram")

// Packet is a decoded on-wire packet. Seqno and Data are meaningless for a
// pure ACK (Len == header size and Seqno does not fall in the receiver's
// window); callers decide that distinction, not this package, per the
// pure-ACK/EOF ambiguity described in the design notes.
type Packet struct {
	Ackno uint32
	Seqno uint32
	Rwnd  uint32 // extended variant only; zero otherwise
	Data  []byte
}

// Variant selects header layout: whether Rwnd is present on the wire.
type Variant int

const (
	VariantBaseline Variant = iota
	VariantExtended
)

// HeaderSize returns the header length for v.
func (v Variant) HeaderSize() int {
	if v == VariantExtended {
		return HeaderSizeExtended
	}
	return HeaderSizeBaseline
}

// Encode serializes p into a freshly allocated buffer, computing the
// checksum over exactly the resulting length with the checksum field
// treated as zero during the computation.
func (v Variant) Encode(p Packet) []byte {
	hdr := v.HeaderSize()
	buf := make([]byte, hdr+len(p.Data))

	// buf[0:2] cksum, filled in last.
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[4:8], p.Ackno)
	binary.BigEndian.PutUint32(buf[8:12], p.Seqno)
	if v == VariantExtended {
		binary.BigEndian.PutUint32(buf[12:16], p.Rwnd)
	}
	copy(buf[hdr:], p.Data)

	binary.BigEndian.PutUint16(buf[0:2], internetChecksum(buf))
	return buf
}

// Decode parses a received datagram. A datagram whose declared length is
// below the header size, above the received length, or whose checksum does
// not match is garbage and is reported as ErrGarbage — the caller treats
// this identically to a dropped packet.
func (v Variant) Decode(raw []byte) (Packet, error) {
	hdr := v.HeaderSize()
	if len(raw) < hdr {
		return Packet{}, ErrGarbage
	}

	declared := int(binary.BigEndian.Uint16(raw[2:4]))
	if declared < hdr || declared > len(raw) {
		return Packet{}, ErrGarbage
	}

	n := declared
	if n > len(raw) {
		n = len(raw)
	}
	scratch := make([]byte, n)
	copy(scratch, raw[:n])
	binary.BigEndian.PutUint16(scratch[0:2], 0)
	got := binary.BigEndian.Uint16(raw[0:2])
	if internetChecksum(scratch) != got {
		return Packet{}, ErrGarbage
	}

	p := Packet{
		Ackno: binary.BigEndian.Uint32(raw[4:8]),
		Seqno: binary.BigEndian.Uint32(raw[8:12]),
	}
	if v == VariantExtended {
		p.Rwnd = binary.BigEndian.Uint32(raw[12:16])
	}
	if declared > hdr {
		p.Data = append([]byte(nil), raw[hdr:declared]...)
	}
	return p, nil
}

// internetChecksum computes the 16-bit one's-complement checksum (RFC 1071)
// over data, with the checksum field assumed to already be zeroed by the
// caller.
func internetChecksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}

// IsPureACK reports whether a decoded header-size packet should be treated
// as a pure ACK rather than an EOF data packet, given the receiver's
// current acceptance window. Per the design notes: a header-size packet is
// data (EOF) whenever its seqno falls in the receiver's window, else it is
// a pure ACK.
func IsPureACK(p Packet, nextExpected, windowSize uint32) bool {
	if len(p.Data) > 0 {
		return false
	}
	return !(p.Seqno >= nextExpected && p.Seqno < nextExpected+windowSize)
}
