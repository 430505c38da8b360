package dnswire

// Section identifies which part of a DNS message an RR belongs to.
type Section int

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

// Packet represents a complete DNS message (RFC 1035 §4): a header and
// four sections. Questions and the three RR sections are inherently
// ordered slices — the assembler relies on insertion order to express
// "ANSWER before AUTHORITY before ADDITIONAL" placement.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// NewPacket returns an empty packet with the given transaction ID.
func NewPacket(id uint16) Packet {
	return Packet{Header: Header{ID: id}}
}

// Marshal serializes the packet to DNS wire format (big-endian).
func (p Packet) Marshal() ([]byte, error) {
	h := Header{
		ID:      p.Header.ID,
		Flags:   p.Header.Flags,
		QDCount: uint16(len(p.Questions)),
		ANCount: uint16(len(p.Answers)),
		NSCount: uint16(len(p.Authorities)),
		ARCount: uint16(len(p.Additionals)),
	}

	hb, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	estimatedSize := HeaderSize + len(p.Questions)*50 + (len(p.Answers)+len(p.Authorities)+len(p.Additionals))*100
	out := make([]byte, 0, estimatedSize)
	out = append(out, hb...)
	for _, q := range p.Questions {
		qb, err := q.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, qb...)
	}
	for _, rr := range p.Answers {
		b, err := Marshal(rr)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	for _, rr := range p.Authorities {
		b, err := Marshal(rr)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	for _, rr := range p.Additionals {
		b, err := Marshal(rr)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// Decode parses a full DNS message from wire format without any
// resource-exhaustion bounding; callers handling untrusted input from the
// network should use ParseRequestBounded instead.
func Decode(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Header: h}

	limitCount := func(count uint16, limit int) int {
		if int(count) > limit {
			return limit
		}
		return int(count)
	}

	p.Questions = make([]Question, 0, limitCount(h.QDCount, MaxQuestions))
	for range h.QDCount {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}
	p.Answers = make([]Record, 0, limitCount(h.ANCount, MaxRRPerSection))
	for range h.ANCount {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Answers = append(p.Answers, rr)
	}
	p.Authorities = make([]Record, 0, limitCount(h.NSCount, MaxRRPerSection))
	for range h.NSCount {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Authorities = append(p.Authorities, rr)
	}
	p.Additionals = make([]Record, 0, limitCount(h.ARCount, MaxRRPerSection))
	for range h.ARCount {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Additionals = append(p.Additionals, rr)
	}
	return p, nil
}

// AppendQuestion appends a question, enforcing MaxQuestions.
func (p *Packet) AppendQuestion(q Question) error {
	if len(p.Questions) >= MaxQuestions {
		return ErrSizeExceeded
	}
	p.Questions = append(p.Questions, q)
	return nil
}

// sectionSlice returns a pointer to the slice backing the given section.
func (p *Packet) sectionSlice(s Section) *[]Record {
	switch s {
	case SectionAnswer:
		return &p.Answers
	case SectionAuthority:
		return &p.Authorities
	default:
		return &p.Additionals
	}
}

// totalRR returns the combined RR count across all three sections.
func (p *Packet) totalRR() int {
	return len(p.Answers) + len(p.Authorities) + len(p.Additionals)
}

// AppendRR appends r to the named section, honoring the per-section and
// total-RR bounds atomically: on ErrSizeExceeded the packet is left
// unmodified.
func (p *Packet) AppendRR(s Section, r Record) error {
	slice := p.sectionSlice(s)
	if len(*slice) >= MaxRRPerSection {
		return ErrSizeExceeded
	}
	if p.totalRR() >= MaxTotalRR {
		return ErrSizeExceeded
	}
	*slice = append(*slice, r)
	return nil
}

// SetHeaderFlags overwrites the packet's flags field.
func (p *Packet) SetHeaderFlags(flags uint16) {
	p.Header.Flags = flags
}

// Clone returns a deep-enough copy for safe independent mutation: the
// section slices are copied, but individual Record values are shared
// (records are treated as immutable once constructed).
func (p Packet) Clone() Packet {
	out := p
	out.Questions = append([]Question(nil), p.Questions...)
	out.Answers = append([]Record(nil), p.Answers...)
	out.Authorities = append([]Record(nil), p.Authorities...)
	out.Additionals = append([]Record(nil), p.Additionals...)
	return out
}

// EqualPacket reports whether two packets serialize to identical bytes.
func EqualPacket(a, b Packet) bool {
	ab, aerr := a.Marshal()
	bb, berr := b.Marshal()
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
