package stub

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/stubresolve/internal/dnswire"
	"github.com/jroosing/stubresolve/internal/pool"
)

// Socket buffer sizes for burst handling (4MB each), matching the
// teacher's sizing for a single-box multi-core stub.
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// DefaultWorkersPerSocket is the default number of worker goroutines per
// UDP socket.
const DefaultWorkersPerSocket = 256

var udpBufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dnswire.MaxIncomingDNSMessageSize)
	return &buf
})

// UDPListener runs a set of SO_REUSEPORT UDP sockets (one per CPU core)
// for a single listener spec, handing each received packet to a
// Dispatcher and writing back whatever reply it returns.
//
// The primary listener (127.0.0.53:53) binds loopback-only and forces
// IP_TTL=1 on every socket so replies never escape the host even if a
// misconfigured route would otherwise forward them. Extra listeners bind
// whatever address the operator configured, including a not-yet-assigned
// one via IP_FREEBIND, and do not clamp TTL.
type UDPListener struct {
	Logger           *slog.Logger
	Dispatcher       *Dispatcher
	Limiter          *RateLimiter
	WorkersPerSocket int
	Kind             ListenerKind

	conns []*net.UDPConn
	wg    sync.WaitGroup
}

type udpPacket struct {
	bufPtr *[]byte
	n      int
	peer   *net.UDPAddr
}

// Run opens one SO_REUSEPORT socket per CPU core bound to addr and
// serves until ctx is cancelled.
func (l *UDPListener) Run(ctx context.Context, addr string) error {
	if l.WorkersPerSocket <= 0 {
		l.WorkersPerSocket = DefaultWorkersPerSocket
	}

	socketCount := runtime.NumCPU()
	l.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := l.listenReusePort(addr)
		if err != nil {
			for _, c := range l.conns {
				_ = c.Close()
			}
			return err
		}
		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)
		l.conns = append(l.conns, conn)

		packetCh := make(chan udpPacket, l.WorkersPerSocket*2)
		c := conn
		ch := packetCh

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.recvLoop(ctx, c, ch)
		}()

		for range l.WorkersPerSocket {
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.workerLoop(ctx, c, ch)
			}()
		}
	}

	<-ctx.Done()
	return l.Stop(5 * time.Second)
}

func (l *UDPListener) recvLoop(ctx context.Context, conn *net.UDPConn, out chan<- udpPacket) {
	for {
		bufPtr := udpBufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			udpBufferPool.Put(bufPtr)
			return
		}

		if l.Limiter != nil {
			if addr, ok := netip.AddrFromSlice(peer.IP); ok && !l.Limiter.AllowAddr(addr.Unmap()) {
				udpBufferPool.Put(bufPtr)
				continue
			}
		}

		select {
		case out <- udpPacket{bufPtr, n, peer}:
		default:
			udpBufferPool.Put(bufPtr)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (l *UDPListener) workerLoop(ctx context.Context, conn *net.UDPConn, in <-chan udpPacket) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-in:
			if !ok {
				return
			}
			l.handlePacket(ctx, conn, p)
		}
	}
}

func (l *UDPListener) handlePacket(ctx context.Context, conn *net.UDPConn, p udpPacket) {
	defer udpBufferPool.Put(p.bufPtr)

	payload := make([]byte, p.n)
	copy(payload, (*p.bufPtr)[:p.n])

	if l.Dispatcher == nil {
		return
	}

	resp := l.Dispatcher.Handle(ctx, Query{
		RawRequest: payload,
		Transport:  TransportUDP,
		Listener:   l.Kind,
		Peer:       p.peer,
	})
	if len(resp) == 0 {
		return
	}

	_, _ = conn.WriteToUDP(resp, p.peer)
}

// Stop closes every socket and waits up to timeout for goroutines to
// drain.
func (l *UDPListener) Stop(timeout time.Duration) error {
	for _, c := range l.conns {
		_ = c.Close()
	}

	if timeout <= 0 {
		l.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp listener: timeout waiting for goroutines to exit")
	}
}

// listenReusePort creates a UDP socket with SO_REUSEPORT enabled, and
// for the primary listener also forces IP_TTL=1 (packets never leave the
// host) and for extra listeners allows binding addresses not yet present
// on any interface via IP_FREEBIND.
func (l *UDPListener) listenReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if serr := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); serr != nil {
					ctrlErr = serr
					return
				}
				switch l.Kind {
				case ListenerPrimary:
					_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, 1)
				case ListenerExtra:
					_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_FREEBIND, 1)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
