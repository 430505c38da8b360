package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func questionPacket(qtype RecordType, rd bool) Packet {
	p := NewPacket(1)
	_ = p.AppendQuestion(Question{Name: "example.test", Type: uint16(qtype), Class: uint16(ClassIN)})
	if rd {
		p.Header.Flags |= RDFlag
	}
	return p
}

func TestValidateIngressAcceptsOrdinaryQuery(t *testing.T) {
	_, ok := ValidateIngress(questionPacket(TypeA, true), nil)
	assert.True(t, ok)
}

func TestValidateIngressRejectsUnsupportedEDNSVersion(t *testing.T) {
	opt := CreateOPT(4096)
	opt.Version = 1
	rcode, ok := ValidateIngress(questionPacket(TypeA, true), &opt)
	assert.False(t, ok)
	assert.Equal(t, RCodeBadVers, rcode)
}

func TestValidateIngressRejectsObsoleteType(t *testing.T) {
	rcode, ok := ValidateIngress(questionPacket(TypeMD, true), nil)
	assert.False(t, ok)
	assert.Equal(t, RCodeRefused, rcode)
}

func TestValidateIngressRejectsZoneTransferType(t *testing.T) {
	rcode, ok := ValidateIngress(questionPacket(TypeAXFR, true), nil)
	assert.False(t, ok)
	assert.Equal(t, RCodeRefused, rcode)
}

func TestValidateIngressRejectsWhenRDNotSet(t *testing.T) {
	rcode, ok := ValidateIngress(questionPacket(TypeA, false), nil)
	assert.False(t, ok)
	assert.Equal(t, RCodeRefused, rcode)
}

func TestIsObsoleteType(t *testing.T) {
	assert.True(t, IsObsoleteType(TypeMD))
	assert.True(t, IsObsoleteType(TypeWKS))
	assert.False(t, IsObsoleteType(TypeA))
}

func TestIsZoneTransferType(t *testing.T) {
	assert.True(t, IsZoneTransferType(TypeAXFR))
	assert.True(t, IsZoneTransferType(TypeIXFR))
	assert.False(t, IsZoneTransferType(TypeA))
}
