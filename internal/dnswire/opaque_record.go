package dnswire

import "fmt"

// OpaqueRecord carries RDATA the codec does not interpret: TXT, OPT,
// DNSSEC metadata types (RRSIG, NSEC, NSEC3, DNSKEY, DS, ...), and any
// unknown/unsupported type. The assembler filters these by Type() rather
// than by structure, so leaving them opaque costs nothing.
type OpaqueRecord struct {
	H    RRHeader
	T    RecordType
	Data any // typically []byte; TXT may carry string or []string before marshal
}

// NewOpaqueRecord creates a new opaque record.
func NewOpaqueRecord(h RRHeader, rt RecordType, data []byte) *OpaqueRecord {
	return &OpaqueRecord{H: h, T: rt, Data: data}
}

func (r *OpaqueRecord) Type() RecordType     { return r.T }
func (r *OpaqueRecord) Header() RRHeader     { return r.H }
func (r *OpaqueRecord) SetHeader(h RRHeader) { r.H = h }

// MarshalRData marshals the opaque payload to wire format.
func (r *OpaqueRecord) MarshalRData() ([]byte, error) {
	if r.Data == nil {
		return nil, nil
	}
	switch v := r.Data.(type) {
	case []byte:
		return v, nil
	case string:
		return marshalTXT(v)
	case []string:
		return marshalTXT(v)
	default:
		return nil, fmt.Errorf("%w: opaque record data must be raw bytes or TXT strings", ErrWire)
	}
}

// ParseOpaqueRData parses raw opaque RDATA (TXT, OPT, DNSSEC metadata, unknown types).
func ParseOpaqueRData(msg []byte, off *int, rdlen int, rt RecordType) (*OpaqueRecord, error) {
	if *off+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF reading opaque RDATA", ErrWire)
	}
	b := make([]byte, rdlen)
	copy(b, msg[*off:*off+rdlen])
	*off += rdlen
	return &OpaqueRecord{T: rt, Data: b}, nil
}

func marshalTXT(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return marshalTXTString(t), nil
	case []string:
		totalLen := 0
		for _, s := range t {
			totalLen += 1 + len(s)
		}
		out := make([]byte, 0, totalLen)
		for _, s := range t {
			b := []byte(s)
			if len(b) > 255 {
				return nil, fmt.Errorf("%w: TXT character-string cannot exceed 255 bytes", ErrWire)
			}
			out = append(out, byte(len(b)))
			out = append(out, b...)
		}
		return out, nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: TXT record data must be string, []string, or []byte", ErrWire)
	}
}

func marshalTXTString(s string) []byte {
	b := []byte(s)
	if len(b) <= 255 {
		out := make([]byte, 1+len(b))
		out[0] = byte(len(b))
		copy(out[1:], b)
		return out
	}
	numChunks := (len(b) + 254) / 255
	out := make([]byte, 0, len(b)+numChunks)
	for i := 0; i < len(b); i += 255 {
		chunk := b[i:]
		if len(chunk) > 255 {
			chunk = chunk[:255]
		}
		out = append(out, byte(len(chunk)))
		out = append(out, chunk...)
	}
	return out
}
