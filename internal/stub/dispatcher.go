package stub

import (
	"context"
	"log/slog"
	"time"

	"github.com/jroosing/stubresolve/internal/assembler"
	"github.com/jroosing/stubresolve/internal/dnswire"
	"github.com/jroosing/stubresolve/internal/finalizer"
	"github.com/jroosing/stubresolve/internal/machineid"
	"github.com/jroosing/stubresolve/internal/resolver"
)

// Dispatcher runs the ingress validation pipeline, duplicate
// suppression, and resolver hand-off for every query landing on any
// listener. Its in-flight and duplicate tables are owned by a single
// goroutine (Run), matching the single-threaded event-loop model: socket
// I/O can fan out across worker goroutines, but query bookkeeping does
// not.
type Dispatcher struct {
	Logger   *slog.Logger
	Resolver resolver.Resolver
	Stats    *Stats
	Timeout  time.Duration

	NSIDValue   string
	NSIDEnabled bool

	cmds chan dispatchCmd
}

type dispatchCmd struct {
	q    Query
	resp chan<- []byte
}

// NewDispatcher constructs a Dispatcher. Call Run in its own goroutine
// before sending queries.
func NewDispatcher(res resolver.Resolver, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Resolver: res,
		Logger:   logger,
		Timeout:  4 * time.Second,
		cmds:     make(chan dispatchCmd, 4096),
	}
}

// Run serializes all in-flight/duplicate-table bookkeeping onto the
// calling goroutine until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	inFlight := make(map[DuplicateKey]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.cmds:
			d.process(ctx, cmd, inFlight)
		}
	}
}

// Handle runs the ingress validation pipeline for a raw incoming
// message and returns the finalized reply bytes, or nil to mean "drop
// silently" (own-query echo, duplicate, or unparseable-even-for-FORMERR).
//
// Validation order (matches the teacher's layered early-return style):
//  1. loopback-only check is enforced by the caller (listener binds only
//     to loopback for the primary socket; extra listeners opt in
//     explicitly, so there is nothing to re-check here)
//  2. own-query-echo check (resolver.PacketIsOurOwn)
//  3. duplicate suppression
//  4. bounded parse (FORMERR on failure)
//  5. EDNS version, obsolete/zone-transfer question type, RD bit
//     (dnswire.ValidateIngress; BADVERS/REFUSED on failure)
func (d *Dispatcher) Handle(ctx context.Context, q Query) []byte {
	if d.Resolver != nil && d.Resolver.PacketIsOurOwn(q.RawRequest) {
		return nil
	}

	key, hasKey := NewDuplicateKey(q.Transport, q.Peer, q.RawRequest)
	q.DuplicateKey = key
	q.HasDupKey = hasKey

	respCh := make(chan []byte, 1)
	select {
	case d.cmds <- dispatchCmd{q: q, resp: respCh}:
	case <-ctx.Done():
		return nil
	}

	select {
	case resp := <-respCh:
		return resp
	case <-ctx.Done():
		return nil
	}
}

func (d *Dispatcher) process(ctx context.Context, cmd dispatchCmd, inFlight map[DuplicateKey]struct{}) {
	q := cmd.q
	start := time.Now()

	if d.Stats != nil {
		d.Stats.RecordQuery(q.Transport)
	}

	if q.HasDupKey {
		if _, dup := inFlight[q.DuplicateKey]; dup {
			cmd.resp <- nil
			return
		}
		inFlight[q.DuplicateKey] = struct{}{}
		defer delete(inFlight, q.DuplicateKey)
	}

	parsed, err := dnswire.ParseRequestBounded(q.RawRequest)
	if err != nil {
		if d.Stats != nil {
			d.Stats.RecordError()
		}
		cmd.resp <- dnswire.TryBuildErrorFromRaw(q.RawRequest, uint16(dnswire.RCodeFormErr))
		return
	}
	q.Request = parsed

	clientOPT := dnswire.ExtractOPT(parsed.Additionals)

	if rcode, ok := dnswire.ValidateIngress(parsed, clientOPT); !ok {
		if d.Stats != nil {
			d.Stats.RecordError()
		}
		cmd.resp <- d.rejectReply(q, rcode)
		return
	}

	bypass := clientOPT != nil && clientOPT.DNSSECOk && (parsed.Header.Flags&dnswire.CDFlag != 0)
	q.Bypass = bypass

	resp := d.resolveAndFinalize(ctx, q, clientOPT)
	if d.Stats != nil {
		d.Stats.RecordLatency(time.Since(start).Nanoseconds())
		d.recordOutcome(resp)
	}
	cmd.resp <- resp
}

func (d *Dispatcher) recordOutcome(resp []byte) {
	if len(resp) < dnswire.HeaderSize {
		return
	}
	off := 0
	h, err := dnswire.ParseHeader(resp, &off)
	if err != nil {
		return
	}
	switch dnswire.RCodeFromFlags(h.Flags) {
	case dnswire.RCodeNXDomain:
		d.Stats.RecordNXDOMAIN()
	case dnswire.RCodeNoError, dnswire.RCodeRefused:
	default:
		d.Stats.RecordError()
	}
}

// bypassAgeSeconds computes the elapsed time since the upstream packet
// arrived, for TTL decrementing in bypass mode. A zero arrival time
// (answer synthesized without ever hitting the wire) ages nothing.
func bypassAgeSeconds(arrival time.Time) uint32 {
	if arrival.IsZero() {
		return 0
	}
	elapsed := time.Since(arrival)
	if elapsed <= 0 {
		return 0
	}
	return uint32(elapsed.Seconds())
}

// rejectReply finalizes a failure reply for a request that parsed but
// failed ingress shape validation (BADVERS/REFUSED), reusing the normal
// finalizer so OPT echoing and rcode clamping stay consistent with
// every other reply path.
func (d *Dispatcher) rejectReply(q Query, rcode dnswire.RCode) []byte {
	req := finalizer.Request{Packet: q.Request, Listener: q.Listener, Transport: q.Transport.String()}
	out, err := finalizer.Finalize(req, assembler.Assembled{}, resolver.Answer{RCode: rcode}, nil)
	if err != nil {
		return dnswire.TryBuildErrorFromRaw(q.RawRequest, uint16(dnswire.RCodeServFail))
	}
	return out
}

func (d *Dispatcher) resolveAndFinalize(ctx context.Context, q Query, clientOPT *dnswire.OPTRecord) []byte {
	rq := resolver.Query{
		Question:    q.Request.Questions[0],
		RawPacket:   q.RawRequest,
		Bypass:      q.Bypass,
		WantDNSSEC:  clientOPT != nil && clientOPT.DNSSECOk,
		CheckingOff: q.Request.Header.Flags&dnswire.CDFlag != 0,
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, done := d.Resolver.Submit(rctx, rq)
	var ans resolver.Answer
	select {
	case ans = <-done:
	case <-rctx.Done():
		d.Resolver.Abort(handle)
		ans = resolver.Answer{State: resolver.StateTimeout}
	}

	switch ans.State {
	case resolver.StateTimeout, resolver.StateAborted:
		// The client times out too: no reply is the mandated action,
		// not a synthesized SERVFAIL.
		return nil
	case resolver.StateNXDomain:
		ans.RCode = dnswire.RCodeNXDomain
	}

	req := finalizer.Request{Packet: q.Request, Listener: q.Listener, Transport: q.Transport.String()}

	if q.Bypass && len(ans.UpstreamPacket) > 0 {
		age := bypassAgeSeconds(ans.ArrivalTime)
		return finalizer.BypassPatch(req, ans.UpstreamPacket, age)
	}

	// edns0_do, derived exactly as the finalizer derives it for the reply.
	edns0DO := rq.WantDNSSEC && (ans.DNSSEC == resolver.DNSSECSecure || ans.DNSSEC == resolver.DNSSECInsecure || ans.FullyAuthenticated || rq.CheckingOff)
	asm := assembler.Assemble(q.Request.Questions[0], ans, edns0DO)
	nsidFn := func() (string, bool) { return d.NSIDValue, d.NSIDEnabled && d.NSIDValue != "" }

	out, err := finalizer.Finalize(req, asm, ans, nsidFn)
	if err != nil {
		return dnswire.TryBuildErrorFromRaw(q.RawRequest, uint16(dnswire.RCodeServFail))
	}
	return out
}

// SetNSID configures the advertised NSID value derived from machineid.NSID.
func (d *Dispatcher) SetNSID(src machineid.Source, salt [16]byte) error {
	val, err := machineid.NSID(src, salt)
	if err != nil {
		return err
	}
	d.NSIDValue = val
	d.NSIDEnabled = true
	return nil
}
