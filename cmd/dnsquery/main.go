// Command dnsquery sends a single DNS query over UDP and prints the
// parsed response, mirroring the bypass-relevant EDNS(0) flags the stub
// resolver inspects (DO, CD) so its behavior can be exercised directly
// against a stub without a full client stack.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jroosing/stubresolve/internal/dnswire"
)

func main() {
	var (
		server   = flag.String("server", "127.0.0.53:53", "DNS server HOST:PORT")
		name     = flag.String("name", "example.com", "Query name")
		qtype    = flag.Int("qtype", 1, "Query type (numeric, A=1)")
		timeout  = flag.Duration("timeout", 2*time.Second, "Timeout")
		recvSize = flag.Int("recv-size", 4096, "UDP receive buffer size")
		quiet    = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
		do       = flag.Bool("do", false, "Set the EDNS(0) DNSSEC OK bit")
		cd       = flag.Bool("cd", false, "Set the Checking Disabled bit")
		nsid     = flag.Bool("nsid", false, "Request the NSID EDNS(0) option")
	)
	flag.Parse()

	resp, err := queryUDP(*server, *name, uint16(*qtype), *timeout, *recvSize, *do, *cd, *nsid)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "dnsquery error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	p, err := dnswire.Decode(resp)
	if err != nil {
		fmt.Printf("received %d bytes (unparseable)\n", len(resp))
		return
	}

	fmt.Printf("id=%d rcode=%d aa=%v ad=%v cd=%v answers=%d authorities=%d additionals=%d\n",
		p.Header.ID,
		dnswire.RCodeFromFlags(p.Header.Flags),
		p.Header.Flags&dnswire.AAFlag != 0,
		p.Header.Flags&dnswire.ADFlag != 0,
		p.Header.Flags&dnswire.CDFlag != 0,
		len(p.Answers),
		len(p.Authorities),
		len(p.Additionals),
	)

	if opt := dnswire.ExtractOPT(p.Additionals); opt != nil {
		for _, o := range opt.Options {
			if o.Code == dnswire.OptCodeNSID {
				fmt.Printf("nsid=%q\n", string(o.Data))
			}
		}
	}

	rows := make([]string, 0, len(p.Answers))
	for _, rr := range p.Answers {
		rows = append(rows, formatRR(rr))
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Println(s)
	}
}

func queryUDP(server, name string, qtype uint16, timeout time.Duration, recvSize int, do, cd, nsid bool) ([]byte, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	reqBytes, err := buildQuery(name, qtype, do, cd, nsid)
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Now().Add(timeout))
	if _, err := c.Write(reqBytes); err != nil {
		return nil, err
	}
	buf := make([]byte, recvSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func buildQuery(name string, qtype uint16, do, cd, nsid bool) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name required")
	}

	flags := dnswire.RDFlag
	if cd {
		flags |= dnswire.CDFlag
	}

	p := dnswire.Packet{
		Header:    dnswire.Header{ID: uint16(rand.Intn(1 << 16)), Flags: flags},
		Questions: []dnswire.Question{{Name: strings.TrimSuffix(name, "."), Type: qtype, Class: uint16(dnswire.ClassIN)}},
	}

	if do || nsid {
		opt := dnswire.CreateOPT(4096)
		opt.DNSSECOk = do
		if nsid {
			opt.Options = append(opt.Options, dnswire.EDNSOption{Code: dnswire.OptCodeNSID})
		}
		if err := p.AppendRR(dnswire.SectionAdditional, opt.ToRecord()); err != nil {
			return nil, err
		}
	}

	b, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint16(b[0:2]) == 0 {
		binary.BigEndian.PutUint16(b[0:2], 0x1234)
	}
	return b, nil
}

func formatRR(rr dnswire.Record) string {
	h := rr.Header()
	name := h.Name
	if name == "" {
		name = "."
	}
	switch v := rr.(type) {
	case *dnswire.IPRecord:
		return fmt.Sprintf("%s %d IN %s %s", name, h.TTL, typeName(v.Type()), v.Addr.String())
	case *dnswire.NameRecord:
		return fmt.Sprintf("%s %d IN %s %s", name, h.TTL, typeName(v.Type()), v.Target)
	case *dnswire.OpaqueRecord:
		if b, ok := v.Data.([]byte); ok && v.T == dnswire.TypeTXT {
			return fmt.Sprintf("%s %d IN TXT %q", name, h.TTL, string(b))
		}
	}
	return fmt.Sprintf("%s %d IN TYPE%d (unparsed)", name, h.TTL, rr.Type())
}

func typeName(rt dnswire.RecordType) string {
	switch rt {
	case dnswire.TypeA:
		return "A"
	case dnswire.TypeAAAA:
		return "AAAA"
	case dnswire.TypeCNAME:
		return "CNAME"
	case dnswire.TypeDNAME:
		return "DNAME"
	case dnswire.TypeNS:
		return "NS"
	case dnswire.TypePTR:
		return "PTR"
	default:
		return fmt.Sprintf("TYPE%d", uint16(rt))
	}
}
