package dnswire

import (
	"errors"
	"fmt"

	"github.com/jroosing/stubresolve/internal/helpers"
)

// Limits for incoming DNS messages, preventing resource exhaustion attacks.
const (
	MaxIncomingDNSMessageSize = 4096
	MaxQuestions              = 4
	MaxRRPerSection           = 100
	MaxTotalRR                = 200
)

// ParseRequestBounded parses a DNS request with security bounds checking.
// It validates that the message is a standard query (QR clear, opcode 0,
// RFC 1035-conventional question/RR counts).
func ParseRequestBounded(msg []byte) (Packet, error) {
	if len(msg) > MaxIncomingDNSMessageSize {
		return Packet{}, errors.New("dns message too large")
	}
	p, err := Decode(msg)
	if err != nil {
		return Packet{}, err
	}

	if IsResponse(p.Header.Flags) {
		return Packet{}, errors.New("invalid packet: QR flag set (response packet received)")
	}
	if opcode := Opcode(p.Header.Flags); opcode != 0 {
		return Packet{}, fmt.Errorf("unsupported OpCode: %d", opcode)
	}
	if err := validateSectionCounts(p.Header); err != nil {
		return Packet{}, err
	}

	return p, nil
}

func validateSectionCounts(h Header) error {
	qd := int(h.QDCount)
	an := int(h.ANCount)
	ns := int(h.NSCount)
	ar := int(h.ARCount)

	if qd > MaxQuestions {
		return errors.New("too many questions")
	}
	if qd != 1 {
		return errors.New("unsupported question count")
	}
	if an > MaxRRPerSection || ns > MaxRRPerSection || ar > MaxRRPerSection {
		return errors.New("too many resource records")
	}
	if (an + ns + ar) > MaxTotalRR {
		return errors.New("too many total resource records")
	}
	return nil
}

// ValidateIngress runs the shape checks that apply only once a request
// has parsed successfully: EDNS version, obsolete/zone-transfer question
// types, and the RD bit. Returns the RCODE to refuse with and ok=false
// on the first failing check (checks are ordered so the most specific
// failure wins), or ok=true when the request may proceed to the
// resolver.
func ValidateIngress(p Packet, opt *OPTRecord) (rcode RCode, ok bool) {
	if opt != nil && opt.Version != 0 {
		return RCodeBadVers, false
	}
	if len(p.Questions) == 0 {
		return RCodeFormErr, false
	}
	qtype := RecordType(p.Questions[0].Type)
	if IsObsoleteType(qtype) {
		return RCodeRefused, false
	}
	if IsZoneTransferType(qtype) {
		return RCodeRefused, false
	}
	if p.Header.Flags&RDFlag == 0 {
		return RCodeRefused, false
	}
	return RCodeNoError, true
}

// BuildErrorResponse constructs a DNS error response packet, preserving
// the transaction ID, RD flag, and question section from the request.
func BuildErrorResponse(req Packet, rcode uint16) Packet {
	flags := buildResponseFlags(req.Header.Flags, rcode)

	h := Header{
		ID:      req.Header.ID,
		Flags:   flags,
		QDCount: helpers.ClampIntToUint16(len(req.Questions)),
	}
	return Packet{Header: h, Questions: req.Questions}
}

func buildResponseFlags(reqFlags uint16, rcode uint16) uint16 {
	flags := QRFlag
	flags |= reqFlags & RDFlag
	rcode &= RCodeMask
	flags = (flags &^ RCodeMask) | rcode
	return flags
}

// TryBuildErrorFromRaw attempts to construct an error response from raw
// bytes that failed full parsing, salvaging the transaction ID and
// question if the header and question are at least individually decodable.
// Returns nil if even the header cannot be parsed.
func TryBuildErrorFromRaw(reqBytes []byte, rcode uint16) []byte {
	off := 0
	h, err := ParseHeader(reqBytes, &off)
	if err != nil {
		return nil
	}

	var questions []Question
	if h.QDCount > 0 {
		q, err := ParseQuestion(reqBytes, &off)
		if err == nil {
			questions = []Question{q}
		}
	}

	p := Packet{Header: Header{ID: h.ID, Flags: h.Flags}, Questions: questions}
	b, _ := BuildErrorResponse(p, rcode).Marshal()
	return b
}
