package dnswire

import (
	"encoding/binary"
	"fmt"
)

// RRHeader carries the owner name, class and TTL common to every resource record
// (RFC 1035 §4.1.3), independent of its type-specific RDATA.
type RRHeader struct {
	Name  string
	Class uint16
	TTL   uint32
}

// Record is a single DNS resource record. Concrete shapes (IPRecord,
// NameRecord, OpaqueRecord) carry type-specific RDATA but share this
// contract so the codec and assembler can treat any RR uniformly.
type Record interface {
	Type() RecordType
	Header() RRHeader
	SetHeader(RRHeader)
	MarshalRData() ([]byte, error)
}

// Marshal serializes a Record to full wire format: owner name, type,
// class, TTL, RDLENGTH, RDATA. OPT records use the root name regardless
// of Header().Name.
func Marshal(r Record) ([]byte, error) {
	h := r.Header()
	rt := r.Type()

	var nameWire []byte
	if rt == TypeOPT {
		nameWire = []byte{0}
	} else {
		nb, err := EncodeName(h.Name)
		if err != nil {
			return nil, err
		}
		nameWire = nb
	}

	rdata, err := r.MarshalRData()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(nameWire)+10+len(rdata))
	out = append(out, nameWire...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(rt))
	binary.BigEndian.PutUint16(fixed[2:4], h.Class)
	binary.BigEndian.PutUint32(fixed[4:8], h.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	out = append(out, fixed...)
	out = append(out, rdata...)
	return out, nil
}

// ParseRecord decodes one resource record starting at *off, dispatching to
// the type-specific RDATA parser and advancing *off past it.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	if *off+10 > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading DNS record", ErrWire)
	}
	rrType := RecordType(binary.BigEndian.Uint16(msg[*off : *off+2]))
	rrClass := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10
	start := *off
	if start+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading DNS record rdata", ErrWire)
	}

	h := RRHeader{Name: name, Class: rrClass, TTL: ttl}

	switch rrType {
	case TypeA, TypeAAAA:
		r, err := ParseIPRData(msg, off, rdlen)
		if err != nil {
			return nil, err
		}
		r.H = h
		return r, nil
	case TypeCNAME, TypeNS, TypePTR, TypeDNAME:
		r, err := ParseNameRData(msg, off, start, rdlen, rrType)
		if err != nil {
			return nil, err
		}
		r.H = h
		return r, nil
	case TypeOPT:
		r, err := ParseOpaqueRData(msg, off, rdlen, rrType)
		if err != nil {
			return nil, err
		}
		// OPT's CLASS/TTL fields are not a class/ttl at all; preserve them
		// verbatim so edns.go can reinterpret them.
		r.H = h
		return r, nil
	default:
		r, err := ParseOpaqueRData(msg, off, rdlen, rrType)
		if err != nil {
			return nil, err
		}
		r.H = h
		return r, nil
	}
}

// Key is the (name, class, type) identity used for cross-section dedup
// (owner name is compared case-insensitively per RFC 4343: KeyOf stores
// it through NormalizeName).
type Key struct {
	Name  string
	Class uint16
	Type  RecordType
}

// KeyOf returns the dedup key for a record.
func KeyOf(r Record) Key {
	h := r.Header()
	return Key{Name: NormalizeName(h.Name), Class: h.Class, Type: r.Type()}
}

// Equal reports whether two records serialize identically (byte
// equality rather than semantic equality).
func Equal(a, b Record) bool {
	ab, aerr := Marshal(a)
	bb, berr := Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
