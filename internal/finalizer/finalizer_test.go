package finalizer

import (
	"net"
	"testing"

	"github.com/jroosing/stubresolve/internal/assembler"
	"github.com/jroosing/stubresolve/internal/dnswire"
	"github.com/jroosing/stubresolve/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRequest(withOPT, do bool) dnswire.Packet {
	return buildRequestFlags(withOPT, do, false, false)
}

func buildRequestFlags(withOPT, do, ad, cd bool) dnswire.Packet {
	p := dnswire.NewPacket(0xBEEF)
	_ = p.AppendQuestion(dnswire.Question{Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
	p.Header.Flags |= dnswire.RDFlag
	if ad {
		p.Header.Flags |= dnswire.ADFlag
	}
	if cd {
		p.Header.Flags |= dnswire.CDFlag
	}
	if withOPT {
		opt := dnswire.CreateOPT(4096)
		opt.DNSSECOk = do
		_ = p.AppendRR(dnswire.SectionAdditional, opt.ToRecord())
	}
	return p
}

func TestFinalizeSetsRAAndEchoesRD(t *testing.T) {
	req := Request{Packet: buildRequest(false, false), Listener: ListenerPrimary, Transport: "udp"}
	asm := assembler.Assembled{}
	b, err := Finalize(req, asm, resolver.Answer{RCode: dnswire.RCodeNoError}, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.NotZero(t, back.Header.Flags&dnswire.QRFlag)
	assert.NotZero(t, back.Header.Flags&dnswire.RAFlag)
	assert.NotZero(t, back.Header.Flags&dnswire.RDFlag)
}

func TestFinalizeSetsAAWhenFullySynthetic(t *testing.T) {
	req := Request{Packet: buildRequest(false, false), Listener: ListenerPrimary, Transport: "udp"}
	ans := resolver.Answer{RCode: dnswire.RCodeNoError, FullySynthetic: true}
	b, err := Finalize(req, assembler.Assembled{}, ans, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.NotZero(t, back.Header.Flags&dnswire.AAFlag)
}

func TestFinalizeOmitsADWhenRequestDidNotSetAD(t *testing.T) {
	req := Request{Packet: buildRequestFlags(true, true, false, false), Listener: ListenerPrimary, Transport: "udp"}
	ans := resolver.Answer{RCode: dnswire.RCodeNoError, FullyAuthenticated: true}
	b, err := Finalize(req, assembler.Assembled{}, ans, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.Zero(t, back.Header.Flags&dnswire.ADFlag)
}

func TestFinalizeSetsADWhenRequestedAndAuthenticated(t *testing.T) {
	req := Request{Packet: buildRequestFlags(true, true, true, false), Listener: ListenerPrimary, Transport: "udp"}
	ans := resolver.Answer{RCode: dnswire.RCodeNoError, FullyAuthenticated: true}
	b, err := Finalize(req, assembler.Assembled{}, ans, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.NotZero(t, back.Header.Flags&dnswire.ADFlag)
}

func TestFinalizeOmitsADWhenNotAuthenticatedEvenIfRequested(t *testing.T) {
	req := Request{Packet: buildRequestFlags(true, true, true, false), Listener: ListenerPrimary, Transport: "udp"}
	ans := resolver.Answer{RCode: dnswire.RCodeNoError, FullyAuthenticated: false}
	b, err := Finalize(req, assembler.Assembled{}, ans, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.Zero(t, back.Header.Flags&dnswire.ADFlag)
}

func TestFinalizeClearsCDWhenEDNS0DONotSatisfied(t *testing.T) {
	// Client set CD but not DO: edns0_do is false (DO gates it), so CD
	// must be cleared in the reply regardless of the request's CD bit.
	req := Request{Packet: buildRequestFlags(true, false, false, true), Listener: ListenerPrimary, Transport: "udp"}
	ans := resolver.Answer{RCode: dnswire.RCodeNoError}
	b, err := Finalize(req, assembler.Assembled{}, ans, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.Zero(t, back.Header.Flags&dnswire.CDFlag)
}

func TestFinalizeSetsCDWhenEDNS0DOSatisfiedViaOwnCD(t *testing.T) {
	// Client set DO+CD with no definite DNSSEC result and no full
	// authentication: edns0_do still holds because request.CD accepts
	// unvalidated DNSSEC data, so CD should be echoed.
	req := Request{Packet: buildRequestFlags(true, true, false, true), Listener: ListenerPrimary, Transport: "udp"}
	ans := resolver.Answer{RCode: dnswire.RCodeNoError}
	b, err := Finalize(req, assembler.Assembled{}, ans, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.NotZero(t, back.Header.Flags&dnswire.CDFlag)
}

func TestFinalizeClampsExtendedRCodeToServFailWithoutOPT(t *testing.T) {
	req := Request{Packet: buildRequest(false, false), Listener: ListenerPrimary, Transport: "udp"}
	ans := resolver.Answer{RCode: dnswire.RCodeBadVers}
	b, err := Finalize(req, assembler.Assembled{}, ans, nil)
	require.NoError(t, err)

	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeServFail, dnswire.RCodeFromFlags(back.Header.Flags))
}

func TestFinalizeAttachesNSIDOnPrimaryOnly(t *testing.T) {
	nsid := func() (string, bool) { return "deadbeef", true }

	primary := Request{Packet: buildRequest(true, false), Listener: ListenerPrimary, Transport: "udp"}
	b, err := Finalize(primary, assembler.Assembled{}, resolver.Answer{}, nsid)
	require.NoError(t, err)
	back, err := dnswire.Decode(b)
	require.NoError(t, err)
	opt := dnswire.ExtractOPT(back.Additionals)
	require.NotNil(t, opt)
	var primaryNSID []byte
	for _, o := range opt.Options {
		if o.Code == dnswire.OptCodeNSID {
			primaryNSID = o.Data
		}
	}
	assert.Equal(t, []byte("deadbeef"), primaryNSID)

	extra := Request{Packet: buildRequest(true, false), Listener: ListenerExtra, Transport: "udp"}
	b2, err := Finalize(extra, assembler.Assembled{}, resolver.Answer{}, nsid)
	require.NoError(t, err)
	back2, err := dnswire.Decode(b2)
	require.NoError(t, err)
	opt2 := dnswire.ExtractOPT(back2.Additionals)
	require.NotNil(t, opt2)
	extraNSIDCount := 0
	for _, o := range opt2.Options {
		if o.Code == dnswire.OptCodeNSID {
			extraNSIDCount++
		}
	}
	assert.Zero(t, extraNSIDCount)
}

func TestFinalizeTruncatesOversizedUDPResponse(t *testing.T) {
	req := Request{Packet: buildRequest(false, false), Listener: ListenerExtra, Transport: "udp"}
	var items []dnswire.Record
	for i := 0; i < 80; i++ {
		items = append(items, dnswire.NewIPRecord(dnswire.RRHeader{Name: "example.com", Class: uint16(dnswire.ClassIN), TTL: 60}, net.IPv4(10, 0, 0, byte(i))))
	}
	asm := assembler.Assembled{Answer: items}
	b, err := Finalize(req, asm, resolver.Answer{RCode: dnswire.RCodeNoError}, nil)
	require.NoError(t, err)
	assert.True(t, dnswire.IsTruncated(b))
}

func TestBypassPatchRewritesTransactionID(t *testing.T) {
	upstream := buildRequest(false, false)
	upstream.Header.Flags |= dnswire.QRFlag
	raw, err := upstream.Marshal()
	require.NoError(t, err)

	req := Request{Packet: buildRequest(false, false), Transport: "udp", Listener: ListenerPrimary}
	req.Packet.Header.ID = 0x4242

	out := BypassPatch(req, raw, 0)
	back, err := dnswire.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x4242), back.Header.ID)
}
