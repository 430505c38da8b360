package dnswire

import (
	"encoding/binary"

	"github.com/jroosing/stubresolve/internal/helpers"
)

// EDNS(0) constants (RFC 6891).
const (
	DefaultUDPPayloadSize     = 512
	EDNSDefaultUDPPayloadSize = 1232
	EDNSMaxUDPPayloadSize     = 4096
	EDNSMinUDPPayloadSize     = 512

	// PrimaryListenerUDPPayloadSize is advertised only by the primary
	// loopback listener, which never crosses a physical link and so is
	// not subject to path-MTU fragmentation concerns the way an extra
	// listener reachable from off-box is.
	PrimaryListenerUDPPayloadSize = 65494
)

// EDNSOption represents an EDNS option in the OPT record's RDATA.
type EDNSOption struct {
	Code uint16
	Data []byte
}

const (
	ednsOptionHeaderLen   = 4
	ednsMaxOptionDataSize = EDNSMaxUDPPayloadSize
)

// EDNS option codes relevant to this stub (RFC 6891, RFC 7873, RFC 5001).
const (
	OptCodeCookie  uint16 = 10
	OptCodePadding uint16 = 12
	OptCodeNSID    uint16 = 3
)

// isAllowedEDNSOption reports which options ParseEDNSOptions keeps when
// decoding an OPT record (request or reply). Keeping NSID lets a client
// read the NSID a reply carries; the finalizer builds every reply OPT
// from scratch and never echoes a request's options.
func isAllowedEDNSOption(code uint16) bool {
	switch code {
	case OptCodeCookie, OptCodePadding, OptCodeNSID:
		return true
	default:
		return false
	}
}

// Marshal serializes an EDNS option to wire format.
func (o EDNSOption) Marshal() []byte {
	b := make([]byte, 4+len(o.Data))
	binary.BigEndian.PutUint16(b[0:2], o.Code)
	binary.BigEndian.PutUint16(b[2:4], helpers.ClampIntToUint16(len(o.Data)))
	copy(b[4:], o.Data)
	return b
}

// ParseEDNSOptions extracts allowed EDNS options from raw RDATA, skipping
// unknown or oversized options. Truncated options end parsing early.
func ParseEDNSOptions(rdata []byte) []EDNSOption {
	opts := make([]EDNSOption, 0, 2)
	for i := 0; i < len(rdata); {
		if len(rdata)-i < ednsOptionHeaderLen {
			break
		}
		code := binary.BigEndian.Uint16(rdata[i : i+2])
		ln := int(binary.BigEndian.Uint16(rdata[i+2 : i+4]))
		i += ednsOptionHeaderLen

		if ln < 0 || ln > ednsMaxOptionDataSize {
			i += ln
			if i > len(rdata) {
				break
			}
			continue
		}
		if i+ln > len(rdata) {
			break
		}
		if !isAllowedEDNSOption(code) {
			i += ln
			continue
		}
		data := make([]byte, ln)
		copy(data, rdata[i:i+ln])
		opts = append(opts, EDNSOption{Code: code, Data: data})
		i += ln
	}
	return opts
}

// MarshalEDNSOptions serializes EDNS options to RDATA, skipping oversized ones.
func MarshalEDNSOptions(opts []EDNSOption) []byte {
	if len(opts) == 0 {
		return nil
	}
	size := 0
	for _, o := range opts {
		if len(o.Data) > ednsMaxOptionDataSize {
			continue
		}
		size += ednsOptionHeaderLen + len(o.Data)
	}
	if size == 0 {
		return nil
	}
	out := make([]byte, 0, size)
	for _, o := range opts {
		if len(o.Data) > ednsMaxOptionDataSize {
			continue
		}
		out = append(out, o.Marshal()...)
	}
	return out
}

// OPTRecord represents an EDNS OPT pseudo-record (RFC 6891 §6.1.2).
//
// The OPT record reuses ordinary RR wire fields non-standardly:
//   - NAME: must be root
//   - TYPE: 41 (OPT)
//   - CLASS: sender's UDP payload size
//   - TTL: extended RCODE (bits 31-24), version (23-16), DO flag (bit 15)
//   - RDATA: zero or more EDNS options
type OPTRecord struct {
	UDPPayloadSize uint16
	ExtendedRCode  uint8
	Version        uint8
	DNSSECOk       bool
	Options        []EDNSOption
}

// CreateOPT creates an OPT record advertising the given UDP payload size.
func CreateOPT(udpPayloadSize int) OPTRecord {
	sz := helpers.ClampInt(udpPayloadSize, EDNSMinUDPPayloadSize, 65535)
	return OPTRecord{UDPPayloadSize: helpers.ClampIntToUint16(sz)}
}

// ToRecord converts the OPT into an *OpaqueRecord ready for the
// additional section, packing CLASS/TTL per the layout above.
func (o OPTRecord) ToRecord() *OpaqueRecord {
	ttl := packOPTTTL(o.ExtendedRCode, o.Version, o.DNSSECOk)
	rdata := MarshalEDNSOptions(o.Options)
	return &OpaqueRecord{
		H:    RRHeader{Class: o.UDPPayloadSize, TTL: ttl},
		T:    TypeOPT,
		Data: rdata,
	}
}

func packOPTTTL(extRCode, version uint8, dnssecOk bool) uint32 {
	ttl := uint32(extRCode)<<24 | uint32(version)<<16
	if dnssecOk {
		ttl |= 1 << 15
	}
	return ttl
}

// ExtractOPT finds and parses an OPT record from the additionals section.
// Returns nil if no OPT record is present.
func ExtractOPT(additionals []Record) *OPTRecord {
	for _, r := range additionals {
		if r.Type() != TypeOPT {
			continue
		}
		opaque, ok := r.(*OpaqueRecord)
		if !ok {
			continue
		}
		h := opaque.Header()
		raw, ok := opaque.Data.([]byte)
		if !ok {
			continue
		}
		o := OPTRecord{
			UDPPayloadSize: h.Class,
			ExtendedRCode:  helpers.ClampUint32ToUint8((h.TTL >> 24) & 0xFF),
			Version:        helpers.ClampUint32ToUint8((h.TTL >> 16) & 0xFF),
			DNSSECOk:       (h.TTL>>15)&0x1 == 1,
			Options:        ParseEDNSOptions(raw),
		}
		return &o
	}
	return nil
}

// ClientMaxUDPSize determines the maximum UDP response size advertised by
// the client, or DefaultUDPPayloadSize if no EDNS OPT is present.
func ClientMaxUDPSize(req Packet) int {
	opt := ExtractOPT(req.Additionals)
	if opt != nil {
		if opt.UDPPayloadSize < DefaultUDPPayloadSize {
			return DefaultUDPPayloadSize
		}
		return int(opt.UDPPayloadSize)
	}
	return DefaultUDPPayloadSize
}

// IsTruncated checks whether a wire-format DNS message has TC set.
func IsTruncated(responseBytes []byte) bool {
	if len(responseBytes) < 4 {
		return false
	}
	flags := binary.BigEndian.Uint16(responseBytes[2:4])
	return flags&TCFlag != 0
}
