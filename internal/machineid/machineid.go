// Package machineid derives a stable, non-reversible per-host identifier
// used as the EDNS(0) NSID value (RFC 5001) on the primary listener.
//
// The identifier is salted so that two deployments sharing the same
// underlying host (e.g. containers on one node) still produce distinct
// NSIDs, and hashed so the value cannot be inverted to recover the raw
// host id.
package machineid

import (
	"encoding/hex"
	"fmt"

	"github.com/shirou/gopsutil/v3/host"
	"golang.org/x/crypto/blake2b"
)

// Source resolves the stable identifier. Satisfied by Gopsutil in
// production and by a fixed-string fake in tests.
type Source interface {
	HostID() (string, error)
}

// Gopsutil reads the kernel/platform machine id via gopsutil/v3/host.
type Gopsutil struct{}

func (Gopsutil) HostID() (string, error) {
	id, err := host.HostID()
	if err != nil {
		return "", fmt.Errorf("machineid: read host id: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("machineid: host id unavailable")
	}
	return id, nil
}

// NSID derives the NSID string to advertise, given a 16-byte salt. The
// salt is an operator-controlled deployment secret (see internal/config):
// without it, two operators could correlate NSIDs for hosts they don't
// own by brute-forcing the (small) space of real-world host identifiers.
func NSID(src Source, salt [16]byte) (string, error) {
	id, err := src.HostID()
	if err != nil {
		return "", err
	}

	h, err := blake2b.New256(salt[:])
	if err != nil {
		return "", fmt.Errorf("machineid: init hash: %w", err)
	}
	_, _ = h.Write([]byte(id))
	sum := h.Sum(nil)

	return hex.EncodeToString(sum[:8]), nil
}
