// Package finalizer implements the Reply Finalizer: given an assembled
// set of sections, it derives the response header flags, attaches
// EDNS(0)/NSID, applies UDP truncation policy, and (in bypass mode)
// patches the upstream packet directly rather than re-assembling it.
package finalizer

import (
	"github.com/jroosing/stubresolve/internal/assembler"
	"github.com/jroosing/stubresolve/internal/dnswire"
	"github.com/jroosing/stubresolve/internal/resolver"
)

// ListenerKind distinguishes the primary loopback listener (127.0.0.53)
// from configured extra listeners, which differ in advertised UDP size
// and NSID eligibility.
type ListenerKind int

const (
	ListenerPrimary ListenerKind = iota
	ListenerExtra
)

// Request carries everything the finalizer needs about the incoming
// query and transport to build a conformant reply.
type Request struct {
	Packet   dnswire.Packet // the original, parsed client request
	Listener ListenerKind
	Transport string // "udp" or "tcp"
}

// NSIDProvider supplies the stub's advertised NSID value, or ("", false)
// when NSID is disabled.
type NSIDProvider func() (string, bool)

// Finalize builds the final wire-format reply for a normal (non-bypass)
// query: header flags, sectioned RRs, EDNS(0) OPT + NSID, and UDP
// truncation policy.
func Finalize(req Request, asm assembler.Assembled, ans resolver.Answer, nsid NSIDProvider) ([]byte, error) {
	clientOPT := dnswire.ExtractOPT(req.Packet.Additionals)
	clientDO := clientOPT != nil && clientOPT.DNSSECOk
	edns0DO := computeEDNS0DO(clientDO, req.Packet.Header.Flags, ans)

	rcode := ans.RCode
	if clientOPT == nil && uint16(rcode) > 15 {
		// No OPT to carry the extended range: an rcode that doesn't fit
		// in 4 bits (e.g. BADVERS) becomes SERVFAIL for this client.
		rcode = dnswire.RCodeServFail
	}

	p := dnswire.NewPacket(req.Packet.Header.ID)
	p.Questions = req.Packet.Questions
	p.Answers = asm.Answer
	p.Authorities = asm.Authority
	p.Additionals = asm.Additional

	p.SetHeaderFlags(deriveFlags(req.Packet.Header.Flags, ans, edns0DO, rcode))

	if clientOPT != nil {
		opt := buildReplyOPT(req, rcode, edns0DO, nsid)
		if err := p.AppendRR(dnswire.SectionAdditional, opt); err != nil {
			return nil, err
		}
	}

	if req.Transport != "udp" {
		return p.Marshal()
	}

	maxSize := advertisedUDPSize(req)
	if clientOPT != nil {
		if clampedClient := dnswire.ClientMaxUDPSize(req.Packet); clampedClient < maxSize {
			maxSize = clampedClient
		}
	} else if dnswire.DefaultUDPPayloadSize < maxSize {
		maxSize = dnswire.DefaultUDPPayloadSize
	}

	return applyTruncationPolicy(p, maxSize, edns0DO)
}

// computeEDNS0DO derives edns0_do, the flag controlling whether DNSSEC
// RRs are visible to the client at all: the client must have asked for
// DNSSEC (DO), and the answer must actually carry DNSSEC value — either
// the resolver reached a definite security status (secure or insecure),
// or it fully authenticated the chain, or the client itself asked to
// skip validation (CD) and therefore accepts unvalidated DNSSEC data.
func computeEDNS0DO(clientDO bool, reqFlags uint16, ans resolver.Answer) bool {
	if !clientDO {
		return false
	}
	requestCD := reqFlags&dnswire.CDFlag != 0
	definiteResult := ans.DNSSEC == resolver.DNSSECSecure || ans.DNSSEC == resolver.DNSSECInsecure
	return definiteResult || ans.FullyAuthenticated || requestCD
}

// deriveFlags computes the response flags field.
//
//	QR: always 1 (response)
//	Opcode: preserved from the request
//	AA: set iff the resolver reports the answer as fully synthetic
//	    (locally generated, not forwarded)
//	RA: always 1 — an external resolver is always available by contract
//	RD: echoed from the request
//	AD: set iff the request's own AD bit was set AND the resolver fully
//	    authenticated the chain (RFC 6840 §5.7: AD reflects the server's
//	    validation state, gated on the client asking to see it at all)
//	CD: echoed from the request, but only when edns0_do also holds —
//	    otherwise cleared, since DNSSEC data (and thus the point of CD)
//	    isn't being shown to this client
//	RCODE: the effective rcode passed in by the caller, already clamped
//	    to 4 bits (or collapsed to SERVFAIL) when no OPT is present
func deriveFlags(reqFlags uint16, ans resolver.Answer, edns0DO bool, rcode dnswire.RCode) uint16 {
	flags := dnswire.QRFlag
	flags |= reqFlags & dnswire.OpcodeMask
	flags |= dnswire.RAFlag
	flags |= reqFlags & dnswire.RDFlag

	if ans.FullySynthetic {
		flags |= dnswire.AAFlag
	}
	if reqFlags&dnswire.ADFlag != 0 && ans.FullyAuthenticated {
		flags |= dnswire.ADFlag
	}
	if reqFlags&dnswire.CDFlag != 0 && edns0DO {
		flags |= dnswire.CDFlag
	}

	flags = (flags &^ dnswire.RCodeMask) | (uint16(rcode) & dnswire.RCodeMask)
	return flags
}

func advertisedUDPSize(req Request) int {
	if req.Listener == ListenerPrimary {
		return dnswire.PrimaryListenerUDPPayloadSize
	}
	return dnswire.EDNSMaxUDPPayloadSize
}

func buildReplyOPT(req Request, rcode dnswire.RCode, edns0DO bool, nsid NSIDProvider) *dnswire.OpaqueRecord {
	opt := dnswire.CreateOPT(advertisedUDPSize(req))
	opt.ExtendedRCode = uint8((uint16(rcode) >> 4) & 0xFF)
	opt.DNSSECOk = edns0DO

	if nsid != nil && req.Listener == ListenerPrimary {
		if val, ok := nsid(); ok {
			opt.Options = append(opt.Options, dnswire.EDNSOption{Code: dnswire.OptCodeNSID, Data: []byte(val)})
		}
	}
	return opt.ToRecord()
}

// applyTruncationPolicy fits a UDP reply into maxSize, trying in order:
//
//	whole reply fits           -> sent unchanged
//	ADDITIONAL too large       -> trailing RRs dropped one at a time until
//	                              the reply fits, no TC (the reply OPT is
//	                              appended last, so it is the first to go)
//	AUTHORITY too large        -> dropped silently, no TC, but only when
//	                              edns0_do does not hold
//	still too large            -> dnswire.Truncate: header and question
//	                              only, TC set; no ANSWER RR is kept, not
//	                              even the ones that would have fit
func applyTruncationPolicy(p dnswire.Packet, maxSize int, edns0DO bool) ([]byte, error) {
	full, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	if len(full) <= maxSize {
		return full, nil
	}

	// Additional section doesn't fit: drop trailing RRs one at a time.
	trimmed := p
	trimmed.Additionals = append([]dnswire.Record(nil), p.Additionals...)
	for len(trimmed.Additionals) > 0 {
		b, err := trimmed.Marshal()
		if err != nil {
			return nil, err
		}
		if len(b) <= maxSize {
			return b, nil
		}
		trimmed.Additionals = trimmed.Additionals[:len(trimmed.Additionals)-1]
	}
	b, err := trimmed.Marshal()
	if err != nil {
		return nil, err
	}
	if len(b) <= maxSize {
		return b, nil
	}

	// Authority section doesn't fit and the client doesn't need it for
	// validation: drop it silently rather than setting TC.
	if len(trimmed.Authorities) > 0 && !edns0DO {
		withoutAuthority := trimmed
		withoutAuthority.Authorities = nil
		b, err := withoutAuthority.Marshal()
		if err != nil {
			return nil, err
		}
		if len(b) <= maxSize {
			return b, nil
		}
	}

	// Answer (or DNSSEC-needed authority) still doesn't fit: collapse to
	// question-only and set TC.
	return dnswire.Truncate(full, maxSize), nil
}

// BypassPatch implements the bypass-mode (client sent DO+CD) reply path:
// the resolver's raw upstream packet is used nearly verbatim, with only
// the transaction ID, advertised UDP size, and TTLs (aged by ageSeconds,
// which the dispatcher sets to the whole seconds elapsed since the
// upstream packet arrived) patched in place, followed
// by truncation if the patched packet is still oversized. This never
// re-parses or re-serializes the packet.
func BypassPatch(req Request, upstreamPacket []byte, ageSeconds uint32) []byte {
	out := dnswire.PatchTransactionID(upstreamPacket, req.Packet.Header.ID)
	if req.Transport == "udp" {
		out = dnswire.PatchMaxUDPSize(out, uint16(advertisedUDPSize(req)))
	}
	out = dnswire.PatchTTLs(out, ageSeconds)
	if req.Transport == "udp" {
		out = dnswire.Truncate(out, advertisedUDPSize(req))
	}
	return out
}
