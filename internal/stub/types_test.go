package stub

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDuplicateKeyRejectsShortPayload(t *testing.T) {
	_, ok := NewDuplicateKey(TransportUDP, &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 53}, []byte{0x01, 0x02})
	assert.False(t, ok)
}

func TestNewDuplicateKeyDistinguishesPeerAndHeader(t *testing.T) {
	peerA := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	peerB := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000}
	header := make([]byte, 12)

	ka, ok := NewDuplicateKey(TransportUDP, peerA, header)
	require.True(t, ok)
	kb, ok := NewDuplicateKey(TransportUDP, peerB, header)
	require.True(t, ok)

	assert.NotEqual(t, ka, kb)

	kaAgain, ok := NewDuplicateKey(TransportUDP, peerA, header)
	require.True(t, ok)
	assert.Equal(t, ka, kaAgain)
}

func TestTransportString(t *testing.T) {
	assert.Equal(t, "udp", TransportUDP.String())
	assert.Equal(t, "tcp", TransportTCP.String())
}
