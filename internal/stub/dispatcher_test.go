package stub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jroosing/stubresolve/internal/dnswire"
	"github.com/jroosing/stubresolve/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	answer  resolver.Answer
	ourOwn  bool
	submits int
}

func (f *fakeResolver) Submit(ctx context.Context, q resolver.Query) (resolver.Handle, <-chan resolver.Answer) {
	f.submits++
	ch := make(chan resolver.Answer, 1)
	ch <- f.answer
	return resolver.Handle(1), ch
}

func (f *fakeResolver) Abort(resolver.Handle) {}

func (f *fakeResolver) PacketIsOurOwn(packet []byte) bool { return f.ourOwn }

func buildQuestionPacket(id uint16) []byte {
	p := dnswire.NewPacket(id)
	_ = p.AppendQuestion(dnswire.Question{Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
	p.Header.Flags |= dnswire.RDFlag
	b, _ := p.Marshal()
	return b
}

func buildTypedQuestionPacket(id uint16, qtype dnswire.RecordType, rd bool) []byte {
	p := dnswire.NewPacket(id)
	_ = p.AppendQuestion(dnswire.Question{Name: "example.test", Type: uint16(qtype), Class: uint16(dnswire.ClassIN)})
	if rd {
		p.Header.Flags |= dnswire.RDFlag
	}
	b, _ := p.Marshal()
	return b
}

func buildBypassQuestionPacket(id uint16) []byte {
	p := dnswire.NewPacket(id)
	_ = p.AppendQuestion(dnswire.Question{Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
	p.Header.Flags |= dnswire.RDFlag | dnswire.CDFlag
	opt := dnswire.CreateOPT(4096)
	opt.DNSSECOk = true
	_ = p.AppendRR(dnswire.SectionAdditional, opt.ToRecord())
	b, _ := p.Marshal()
	return b
}

func TestDispatcherHandleReturnsReplyForNormalQuery(t *testing.T) {
	res := &fakeResolver{answer: resolver.Answer{State: resolver.StateNXDomain, RCode: dnswire.RCodeNXDomain}}
	d := NewDispatcher(res, nil)
	d.Stats = NewStats()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := buildQuestionPacket(0x1234)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}

	resp := d.Handle(ctx, Query{RawRequest: req, Transport: TransportUDP, Listener: ListenerPrimary, Peer: peer})
	require.NotEmpty(t, resp)

	back, err := dnswire.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), back.Header.ID)
	assert.Equal(t, 1, res.submits)

	snap := d.Stats.Snapshot()
	assert.Equal(t, uint64(1), snap.QueriesTotal)
	assert.Equal(t, uint64(1), snap.QueriesUDP)
}

func TestDispatcherDropsOwnEchoedPackets(t *testing.T) {
	res := &fakeResolver{ourOwn: true}
	d := NewDispatcher(res, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := buildQuestionPacket(0x5555)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}

	resp := d.Handle(ctx, Query{RawRequest: req, Transport: TransportUDP, Listener: ListenerPrimary, Peer: peer})
	assert.Nil(t, resp)
	assert.Equal(t, 0, res.submits)
}

func TestDispatcherSuppressesDuplicateInFlightQueries(t *testing.T) {
	res := &fakeResolver{answer: resolver.Answer{State: resolver.StateSuccess, RCode: dnswire.RCodeNoError}}
	d := NewDispatcher(res, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := buildQuestionPacket(0x7777)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
	key, ok := NewDuplicateKey(TransportUDP, peer, req)
	require.True(t, ok)

	inFlight := map[DuplicateKey]struct{}{key: {}}
	resp := make(chan []byte, 1)
	d.process(ctx, dispatchCmd{
		q: Query{
			RawRequest:   req,
			Transport:    TransportUDP,
			Listener:     ListenerPrimary,
			Peer:         peer,
			DuplicateKey: key,
			HasDupKey:    true,
		},
		resp: resp,
	}, inFlight)

	assert.Nil(t, <-resp)
	assert.Equal(t, 0, res.submits)
}

func TestDispatcherRefusesAXFR(t *testing.T) {
	res := &fakeResolver{}
	d := NewDispatcher(res, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := buildTypedQuestionPacket(0xAAAA, dnswire.TypeAXFR, true)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}
	resp := d.Handle(ctx, Query{RawRequest: req, Transport: TransportUDP, Listener: ListenerPrimary, Peer: peer})
	require.NotEmpty(t, resp)

	back, err := dnswire.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeRefused, dnswire.RCodeFromFlags(back.Header.Flags))
	assert.Zero(t, back.Header.ANCount)
	assert.Equal(t, 0, res.submits)
}

func TestDispatcherRefusesWhenRDNotSet(t *testing.T) {
	res := &fakeResolver{}
	d := NewDispatcher(res, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := buildTypedQuestionPacket(0xBBBB, dnswire.TypeA, false)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}
	resp := d.Handle(ctx, Query{RawRequest: req, Transport: TransportUDP, Listener: ListenerPrimary, Peer: peer})
	require.NotEmpty(t, resp)

	back, err := dnswire.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeRefused, dnswire.RCodeFromFlags(back.Header.Flags))
	assert.Equal(t, 0, res.submits)
}

func TestDispatcherBadVersOnUnsupportedEDNSVersion(t *testing.T) {
	res := &fakeResolver{}
	d := NewDispatcher(res, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	p := dnswire.NewPacket(0xCCCC)
	_ = p.AppendQuestion(dnswire.Question{Name: "example.test", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
	p.Header.Flags |= dnswire.RDFlag
	opt := dnswire.CreateOPT(4096)
	opt.Version = 1
	_ = p.AppendRR(dnswire.SectionAdditional, opt.ToRecord())
	req, err := p.Marshal()
	require.NoError(t, err)

	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}
	resp := d.Handle(ctx, Query{RawRequest: req, Transport: TransportUDP, Listener: ListenerPrimary, Peer: peer})
	require.NotEmpty(t, resp)

	back, err := dnswire.Decode(resp)
	require.NoError(t, err)
	opt2 := dnswire.ExtractOPT(back.Additionals)
	require.NotNil(t, opt2)
	combined := uint16(opt2.ExtendedRCode)<<4 | uint16(dnswire.RCodeFromFlags(back.Header.Flags))
	assert.Equal(t, dnswire.RCodeBadVers, dnswire.RCode(combined))
	assert.Equal(t, 0, res.submits)
}

// blockingResolver never completes on its own; it only answers Abort,
// letting a test deterministically exercise the resolver-timeout path
// instead of racing a buffered channel against the timeout.
type blockingResolver struct {
	aborted chan resolver.Handle
}

func (b *blockingResolver) Submit(ctx context.Context, q resolver.Query) (resolver.Handle, <-chan resolver.Answer) {
	return resolver.Handle(1), make(chan resolver.Answer)
}

func (b *blockingResolver) Abort(h resolver.Handle) {
	if b.aborted != nil {
		b.aborted <- h
	}
}

func (b *blockingResolver) PacketIsOurOwn(packet []byte) bool { return false }

func TestDispatcherTimeoutProducesNoReply(t *testing.T) {
	res := &blockingResolver{aborted: make(chan resolver.Handle, 1)}
	d := NewDispatcher(res, nil)
	d.Timeout = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := buildQuestionPacket(0xDDDD)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}

	resp := d.Handle(ctx, Query{RawRequest: req, Transport: TransportUDP, Listener: ListenerPrimary, Peer: peer})
	assert.Nil(t, resp)

	select {
	case <-res.aborted:
	case <-time.After(time.Second):
		t.Fatal("resolver was not aborted on timeout")
	}
}

func TestDispatcherBypassAgesTTLsByUpstreamArrival(t *testing.T) {
	upstream := dnswire.NewPacket(0x9999)
	_ = upstream.AppendQuestion(dnswire.Question{Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
	upstream.Header.Flags |= dnswire.QRFlag | dnswire.RDFlag
	_ = upstream.AppendRR(dnswire.SectionAnswer, dnswire.NewIPRecord(dnswire.RRHeader{Name: "example.com", Class: uint16(dnswire.ClassIN), TTL: 300}, net.IPv4(1, 1, 1, 1)))
	raw, err := upstream.Marshal()
	require.NoError(t, err)

	res := &fakeResolver{answer: resolver.Answer{
		State:          resolver.StateSuccess,
		RCode:          dnswire.RCodeNoError,
		UpstreamPacket: raw,
		ArrivalTime:    time.Now().Add(-2 * time.Second),
	}}
	d := NewDispatcher(res, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := buildBypassQuestionPacket(0x1234)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}
	resp := d.Handle(ctx, Query{RawRequest: req, Transport: TransportUDP, Listener: ListenerPrimary, Peer: peer})
	require.NotEmpty(t, resp)

	back, err := dnswire.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), back.Header.ID)
	require.Len(t, back.Answers, 1)
	assert.Equal(t, uint32(298), back.Answers[0].Header().TTL)
}
