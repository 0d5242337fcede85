// Package wire implements the fixed frame formats the fabric speaks:
// IPv4 over Ethernet for traffic, plus a heartbeat probe on a reserved
// ethertype. The heartbeat payload layout is bit-packed and must not be
// changed: port occupies the top 9 bits of a 16-bit field, followed by the
// controller-origin flag and the failed-link flag.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// EthernetTypeHeartbeat disambiguates heartbeat probes from IPv4 traffic.
const EthernetTypeHeartbeat = layers.EthernetType(0x1234)

const (
	hbPortShift  = 7
	hbFromCpBit  = 0x0040
	hbFailedBit  = 0x0020
	hbPayloadLen = 2
)

// Heartbeat is the payload of a liveness probe.
//
// FromCP distinguishes the two roles multiplexed over the same frame type:
// controller-originated probes (FromCP set) trigger the staleness check and
// are relayed to the peer with the flag cleared; peer-relayed probes
// (FromCP clear) only refresh the receiver's timestamp table.
// FailedLink is set only on the mirrored copy a switch sends to the
// controller once a port has been declared down.
type Heartbeat struct {
	Port       uint16
	FromCP     bool
	FailedLink bool
}

func (h Heartbeat) marshal() []byte {
	v := h.Port << hbPortShift
	if h.FromCP {
		v |= hbFromCpBit
	}
	if h.FailedLink {
		v |= hbFailedBit
	}
	b := make([]byte, hbPayloadLen)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func parseHeartbeat(data []byte) (Heartbeat, error) {
	if len(data) < hbPayloadLen {
		return Heartbeat{}, fmt.Errorf("heartbeat payload too short: %d bytes", len(data))
	}
	v := binary.BigEndian.Uint16(data)
	return Heartbeat{
		Port:       v >> hbPortShift,
		FromCP:     v&hbFromCpBit != 0,
		FailedLink: v&hbFailedBit != 0,
	}, nil
}

// Frame is a decoded Ethernet frame. Exactly one of Heartbeat and IPv4 is
// set.
type Frame struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr

	Heartbeat *Heartbeat

	IPv4    *layers.IPv4
	Payload []byte // transport payload following the IPv4 header
}

// Decode parses a raw frame. Anything that is neither a heartbeat nor IPv4
// is an error; the caller drops it.
func Decode(raw []byte) (*Frame, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(raw, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("ethernet: %w", err)
	}
	f := &Frame{
		SrcMAC: eth.SrcMAC,
		DstMAC: eth.DstMAC,
	}
	switch eth.EthernetType {
	case EthernetTypeHeartbeat:
		hb, err := parseHeartbeat(eth.Payload)
		if err != nil {
			return nil, err
		}
		f.Heartbeat = &hb
		return f, nil
	case layers.EthernetTypeIPv4:
		var ip layers.IPv4
		if err := ip.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("ipv4: %w", err)
		}
		f.IPv4 = &ip
		f.Payload = ip.Payload
		return f, nil
	default:
		return nil, fmt.Errorf("unhandled ethertype 0x%04x", uint16(eth.EthernetType))
	}
}

// EncodeHeartbeat builds a heartbeat frame.
func EncodeHeartbeat(src, dst net.HardwareAddr, hb Heartbeat) []byte {
	eth := layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: EthernetTypeHeartbeat,
	}
	buf := gopacket.NewSerializeBuffer()
	// serialization of fixed layers cannot fail
	_ = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&eth, gopacket.Payload(hb.marshal()))
	return buf.Bytes()
}

// EncodeIPv4Packet builds a fresh IPv4 data frame carrying an opaque
// payload, as a host would originate it.
func EncodeIPv4Packet(srcMAC, dstMAC net.HardwareAddr, src, dst netip.Addr, ttl uint8, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	return EncodeIPv4(srcMAC, dstMAC, ip, payload)
}

// EncodeIPv4 builds an IPv4 data frame, recomputing lengths and the header
// checksum.
func EncodeIPv4(src, dst net.HardwareAddr, ip *layers.IPv4, payload []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}, &eth, ip, gopacket.Payload(payload))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
