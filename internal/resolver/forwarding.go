package resolver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jroosing/stubresolve/internal/dnswire"
)

// Forwarding is a minimal reference Resolver: it relays each query to a
// single configured upstream over UDP, falling back to TCP when the
// upstream response is truncated. It has no cache, no singleflight
// coalescing, and no health tracking — those concerns belong to a real
// production resolver deployment, not to this stub's demo collaborator.
//
// It exists so cmd/dnsstub and integration tests have something real to
// talk to without reimplementing the explicitly-external resolver
// subsystem.
type Forwarding struct {
	Upstream    string // "ip:port", e.g. "9.9.9.9:53"
	UDPTimeout  time.Duration
	TCPTimeout  time.Duration

	mu      sync.Mutex
	handles map[Handle]context.CancelFunc
	next    Handle
}

// NewForwarding constructs a Forwarding resolver targeting upstream.
func NewForwarding(upstream string) *Forwarding {
	return &Forwarding{
		Upstream:   upstream,
		UDPTimeout: 3 * time.Second,
		TCPTimeout: 5 * time.Second,
		handles:    make(map[Handle]context.CancelFunc),
	}
}

func (f *Forwarding) Submit(ctx context.Context, q Query) (Handle, <-chan Answer) {
	out := make(chan Answer, 1)
	qctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.next++
	h := f.next
	f.handles[h] = cancel
	f.mu.Unlock()

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.handles, h)
			f.mu.Unlock()
			cancel()
		}()
		out <- f.resolve(qctx, q)
	}()

	return h, out
}

func (f *Forwarding) Abort(h Handle) {
	f.mu.Lock()
	cancel, ok := f.handles[h]
	delete(f.handles, h)
	f.mu.Unlock()
	if ok {
		cancel()
	}
}

// PacketIsOurOwn is always false for a bare forwarding resolver: it
// issues queries from ephemeral sockets distinct from the stub's own
// listeners, so loopback echo of the stub's own traffic cannot occur
// through this collaborator.
func (f *Forwarding) PacketIsOurOwn(_ []byte) bool {
	return false
}

func (f *Forwarding) resolve(ctx context.Context, q Query) Answer {
	reqBytes := q.RawPacket
	if len(reqBytes) == 0 {
		p := dnswire.NewPacket(1)
		_ = p.AppendQuestion(q.Question)
		b, err := p.Marshal()
		if err != nil {
			return Answer{State: StateServFail, RCode: dnswire.RCodeServFail}
		}
		reqBytes = b
	}

	respBytes, err := f.queryUDP(ctx, reqBytes)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{State: StateAborted, RCode: dnswire.RCodeServFail}
		}
		return Answer{State: StateServFail, RCode: dnswire.RCodeServFail}
	}

	if dnswire.IsTruncated(respBytes) {
		if tcpResp, tcpErr := f.queryTCP(ctx, reqBytes); tcpErr == nil {
			respBytes = tcpResp
		}
	}

	return answerFromWire(respBytes, time.Now())
}

func answerFromWire(respBytes []byte, arrival time.Time) Answer {
	resp, err := dnswire.Decode(respBytes)
	if err != nil {
		return Answer{State: StateServFail, RCode: dnswire.RCodeServFail}
	}

	rcode := dnswire.RCodeFromFlags(resp.Header.Flags)
	state := stateFromRCode(rcode, len(resp.Answers))

	items := make([]AnswerItem, 0, len(resp.Answers)+len(resp.Authorities)+len(resp.Additionals))
	items = appendItems(items, resp.Answers, SectionAnswer)
	items = appendItems(items, resp.Authorities, SectionAuthority)
	items = appendItems(items, resp.Additionals, SectionAdditional)

	return Answer{
		State:          state,
		RCode:          rcode,
		DNSSEC:         DNSSECNotValidated,
		Items:          items,
		UpstreamPacket: respBytes,
		ArrivalTime:    arrival,
	}
}

func appendItems(items []AnswerItem, rrs []dnswire.Record, section SectionHint) []AnswerItem {
	for _, rr := range rrs {
		if rr.Type() == dnswire.TypeOPT {
			continue
		}
		items = append(items, AnswerItem{RR: rr, Section: section})
	}
	return items
}

func stateFromRCode(rcode dnswire.RCode, answerCount int) State {
	switch rcode {
	case dnswire.RCodeNoError:
		if answerCount == 0 {
			return StateNoData
		}
		return StateSuccess
	case dnswire.RCodeNXDomain:
		return StateNXDomain
	case dnswire.RCodeRefused:
		return StateRefused
	default:
		return StateServFail
	}
}

func (f *Forwarding) queryUDP(ctx context.Context, reqBytes []byte) ([]byte, error) {
	timeout := f.UDPTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "udp", f.Upstream)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(reqBytes); err != nil {
		return nil, err
	}

	buf := make([]byte, dnswire.EDNSMaxUDPPayloadSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (f *Forwarding) queryTCP(ctx context.Context, reqBytes []byte) ([]byte, error) {
	timeout := f.TCPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", f.Upstream)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	lenPrefix := []byte{byte(len(reqBytes) >> 8), byte(len(reqBytes))}
	if _, err := conn.Write(lenPrefix); err != nil {
		return nil, err
	}
	if _, err := conn.Write(reqBytes); err != nil {
		return nil, err
	}

	var lb [2]byte
	if _, err := readFull(conn, lb[:]); err != nil {
		return nil, err
	}
	respLen := int(lb[0])<<8 | int(lb[1])
	resp := make([]byte, respLen)
	if _, err := readFull(conn, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
