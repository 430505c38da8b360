package dnswire

import "encoding/binary"

// This file implements the Reply Finalizer's bypass-mode operations by
// walking wire-format bytes directly rather than decoding and
// re-encoding the full packet.

// PatchTTLs decrements every non-OPT record's TTL by ageSeconds (floored
// at 1), leaving the message otherwise byte-identical. Returns the
// original slice unmodified if the message cannot be safely walked.
func PatchTTLs(respBytes []byte, ageSeconds uint32) []byte {
	if len(respBytes) < HeaderSize || ageSeconds == 0 {
		return respBytes
	}

	adjusted := make([]byte, len(respBytes))
	copy(adjusted, respBytes)

	qdcount := binary.BigEndian.Uint16(adjusted[4:6])
	ancount := binary.BigEndian.Uint16(adjusted[6:8])
	nscount := binary.BigEndian.Uint16(adjusted[8:10])
	arcount := binary.BigEndian.Uint16(adjusted[10:12])

	off := HeaderSize

	for range qdcount {
		_, err := DecodeName(adjusted, &off)
		if err != nil || off+4 > len(adjusted) {
			return respBytes
		}
		off += 4
	}

	totalRecords := int(ancount) + int(nscount) + int(arcount)
	for range totalRecords {
		_, err := DecodeName(adjusted, &off)
		if err != nil || off+10 > len(adjusted) {
			return respBytes
		}

		recordType := binary.BigEndian.Uint16(adjusted[off : off+2])
		off += 4 // TYPE + CLASS

		if recordType != uint16(TypeOPT) {
			oldTTL := binary.BigEndian.Uint32(adjusted[off : off+4])
			newTTL := oldTTL
			if newTTL > ageSeconds {
				newTTL -= ageSeconds
			} else {
				newTTL = 1
			}
			binary.BigEndian.PutUint32(adjusted[off:off+4], newTTL)
		}
		off += 4 // TTL

		if off+2 > len(adjusted) {
			return respBytes
		}
		rdlen := int(binary.BigEndian.Uint16(adjusted[off : off+2]))
		off += 2
		if off+rdlen > len(adjusted) {
			return respBytes
		}
		off += rdlen
	}

	return adjusted
}

// PatchTransactionID overwrites the 16-bit ID field in place.
func PatchTransactionID(respBytes []byte, id uint16) []byte {
	if len(respBytes) < 2 {
		return respBytes
	}
	out := make([]byte, len(respBytes))
	copy(out, respBytes)
	binary.BigEndian.PutUint16(out[0:2], id)
	return out
}

// PatchMaxUDPSize rewrites the OPT record's CLASS field (the advertised
// UDP payload size) in place, locating the OPT record by walking past
// the answer/authority sections into additionals. No-op if no OPT record
// is found or the message is malformed.
func PatchMaxUDPSize(respBytes []byte, newSize uint16) []byte {
	if len(respBytes) < HeaderSize {
		return respBytes
	}
	out := make([]byte, len(respBytes))
	copy(out, respBytes)

	qdcount := binary.BigEndian.Uint16(out[4:6])
	ancount := binary.BigEndian.Uint16(out[6:8])
	nscount := binary.BigEndian.Uint16(out[8:10])
	arcount := binary.BigEndian.Uint16(out[10:12])

	off := HeaderSize
	for range qdcount {
		_, err := DecodeName(out, &off)
		if err != nil || off+4 > len(out) {
			return respBytes
		}
		off += 4
	}

	totalBeforeAdditional := int(ancount) + int(nscount)
	for range totalBeforeAdditional {
		if !skipRecord(out, &off) {
			return respBytes
		}
	}

	for range arcount {
		nameStart := off
		_, err := DecodeName(out, &off)
		if err != nil || off+10 > len(out) {
			return respBytes
		}
		recordType := binary.BigEndian.Uint16(out[off : off+2])
		classOff := off + 2
		if recordType == uint16(TypeOPT) {
			binary.BigEndian.PutUint16(out[classOff:classOff+2], newSize)
			return out
		}
		off = nameStart
		if !skipRecord(out, &off) {
			return respBytes
		}
	}
	return out
}

// skipRecord advances *off past one resource record (name + fixed + RDATA).
func skipRecord(msg []byte, off *int) bool {
	_, err := DecodeName(msg, off)
	if err != nil || *off+10 > len(msg) {
		return false
	}
	*off += 8 // TYPE + CLASS + TTL
	if *off+2 > len(msg) {
		return false
	}
	rdlen := int(binary.BigEndian.Uint16(msg[*off : *off+2]))
	*off += 2
	if *off+rdlen > len(msg) {
		return false
	}
	*off += rdlen
	return true
}

// Truncate replaces a response with a TC-flagged, answer-free message
// containing only the header and question section, as required when a
// UDP reply cannot fit within maxSize (RFC 1035 §4.1.1, §4.2.1).
func Truncate(respBytes []byte, maxSize int) []byte {
	if maxSize <= 0 {
		maxSize = DefaultUDPPayloadSize
	}
	if len(respBytes) <= maxSize {
		return respBytes
	}
	if len(respBytes) < HeaderSize {
		return respBytes
	}

	qdcount := binary.BigEndian.Uint16(respBytes[4:6])
	header := buildTruncatedHeader(respBytes, qdcount)

	if qdcount == 0 {
		return header
	}

	questionEnd := findQuestionSectionEnd(respBytes, int(qdcount))
	if questionEnd <= HeaderSize || questionEnd > maxSize {
		return header
	}

	out := make([]byte, 0, questionEnd)
	out = append(out, header...)
	out = append(out, respBytes[HeaderSize:questionEnd]...)
	return out
}

func buildTruncatedHeader(respBytes []byte, qdcount uint16) []byte {
	flags := binary.BigEndian.Uint16(respBytes[2:4])
	newFlags := flags | TCFlag

	h := make([]byte, HeaderSize)
	copy(h[0:2], respBytes[0:2])
	binary.BigEndian.PutUint16(h[2:4], newFlags)
	binary.BigEndian.PutUint16(h[4:6], qdcount)
	binary.BigEndian.PutUint16(h[6:8], 0)
	binary.BigEndian.PutUint16(h[8:10], 0)
	binary.BigEndian.PutUint16(h[10:12], 0)
	return h
}

func findQuestionSectionEnd(msg []byte, qdcount int) int {
	pos := HeaderSize
	for range qdcount {
		pos = skipQNAME(msg, pos)
		if pos > len(msg) || pos+4 > len(msg) {
			return len(msg)
		}
		pos += 4
	}
	return pos
}

func skipQNAME(msg []byte, pos int) int {
	for pos < len(msg) {
		labelLen := msg[pos]
		if labelLen == 0 {
			return pos + 1
		}
		if labelLen >= 0xC0 {
			if pos+2 > len(msg) {
				return len(msg)
			}
			return pos + 2
		}
		pos++
		if pos+int(labelLen) > len(msg) {
			return len(msg)
		}
		pos += int(labelLen)
	}
	return pos
}
