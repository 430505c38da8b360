// Package resolver defines the external collaborator contract the stub
// dispatches parsed queries to. The stub never validates DNSSEC
// signatures, never recurses, and never manages zone data itself — all
// of that lives behind this interface, in whatever resolver the
// deployment wires in. This package also ships one minimal reference
// implementation (Forwarding) for integration tests and the demo binary.
package resolver

import (
	"context"
	"time"

	"github.com/jroosing/stubresolve/internal/dnswire"
)

// SectionHint classifies where an answer item belongs in the finalized
// reply, replacing an untyped bitmask with an explicit enum.
type SectionHint int

const (
	SectionNone SectionHint = iota
	SectionAnswer
	SectionAuthority
	SectionAdditional
)

// DNSSECResult reports the validation outcome the resolver reached for a
// query, independent of whether the client asked for DO.
type DNSSECResult int

const (
	DNSSECNotValidated DNSSECResult = iota
	DNSSECInsecure
	DNSSECSecure
	DNSSECBogus
)

// State is the terminal status of a resolver operation (see the
// end-of-query mapping the Request Dispatcher consumes).
type State int

const (
	StateSuccess State = iota
	StateNXDomain
	StateNoData
	StateServFail
	StateRefused
	StateTimeout
	StateAborted
)

// AnswerItem is one resource record the resolver wants placed in the
// reply, tagged with where it belongs and whether it came from an
// authenticated chain.
type AnswerItem struct {
	RR            dnswire.Record
	Section       SectionHint
	Authenticated bool
	// Sig is the RRSIG covering RR, or nil. The assembler emits it only
	// when edns0_do holds — other clients never see DNSSEC metadata
	// records (RFC 4035 §3.1.5).
	Sig dnswire.Record
}

// Answer is the resolver's structured response to a submitted query.
type Answer struct {
	State               State
	RCode               dnswire.RCode
	DNSSEC              DNSSECResult
	Items               []AnswerItem
	UpstreamPacket       []byte // optional: full raw packet, for bypass passthrough
	ArrivalTime         time.Time // when UpstreamPacket arrived, for bypass TTL aging
	FullyAuthenticated  bool
	FullySynthetic      bool
}

// Query is what the dispatcher submits to the resolver: the decoded
// question plus the client's raw wire packet, which the dispatcher fills
// in for every query, bypass or not.
type Query struct {
	Question    dnswire.Question
	RawPacket   []byte
	Bypass      bool // client requested DO+CD: pass through untouched
	WantDNSSEC  bool // client requested DO
	CheckingOff bool // client requested CD
}

// Handle identifies an in-flight resolver operation for Abort.
type Handle uint64

// Resolver is the external recursive/validating collaborator. The stub
// never inspects zone data, upstream transport, or cache policy — it
// only submits, waits for completion, and may abort.
type Resolver interface {
	// Submit starts resolving q and delivers the Answer to done when
	// finished. The returned Handle is valid until done fires or Abort
	// is called with it.
	Submit(ctx context.Context, q Query) (Handle, <-chan Answer)

	// Abort cancels an in-flight operation. Idempotent: aborting an
	// unknown or already-completed handle is a no-op.
	Abort(h Handle)

	// PacketIsOurOwn reports whether packet originated from this process
	// (e.g. a query the stub itself issued upstream looped back on the
	// loopback interface), so the dispatcher can discard it rather than
	// treat it as a client query.
	PacketIsOurOwn(packet []byte) bool
}
