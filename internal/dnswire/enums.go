package dnswire

// RecordType represents DNS resource record types (RFC 1035, RFC 3596,
// RFC 4034, RFC 6891, RFC 5155).
type RecordType uint16

const (
	TypeA          RecordType = 1
	TypeNS         RecordType = 2
	TypeMD         RecordType = 3
	TypeMF         RecordType = 4
	TypeCNAME      RecordType = 5
	TypeSOA        RecordType = 6
	TypeMB         RecordType = 7
	TypeMG         RecordType = 8
	TypeMR         RecordType = 9
	TypeNULL       RecordType = 10
	TypeWKS        RecordType = 11
	TypePTR        RecordType = 12
	TypeMINFO      RecordType = 14
	TypeMX         RecordType = 15
	TypeTXT        RecordType = 16
	TypeAAAA       RecordType = 28
	TypeDNAME      RecordType = 39
	TypeOPT        RecordType = 41
	TypeDS         RecordType = 43
	TypeRRSIG      RecordType = 46
	TypeNSEC       RecordType = 47
	TypeDNSKEY     RecordType = 48
	TypeNSEC3      RecordType = 50
	TypeNSEC3PARAM RecordType = 51
	TypeCDS        RecordType = 59
	TypeCDNSKEY    RecordType = 60
	TypeIXFR       RecordType = 251
	TypeAXFR       RecordType = 252
)

// IsObsoleteType reports whether a record type is one of the RFC 1035
// mailbox/experimental types the IANA registry marks obsolete or
// long-superseded (MD/MF by MX, MB/MG/MR/MINFO by the mail-group
// extensions that never shipped, WKS/NULL by nothing anyone still
// queries for). A stub resolver has no business forwarding queries for
// these.
func IsObsoleteType(t RecordType) bool {
	switch t {
	case TypeMD, TypeMF, TypeMB, TypeMG, TypeMR, TypeMINFO, TypeNULL, TypeWKS:
		return true
	default:
		return false
	}
}

// IsZoneTransferType reports whether a record type requests a full or
// incremental zone transfer (AXFR/IXFR), which a stub resolver has no
// zone to serve and must refuse.
func IsZoneTransferType(t RecordType) bool {
	return t == TypeAXFR || t == TypeIXFR
}

// IsDNSSECMeta reports whether a record type belongs to the set of
// signature/authentication-chain metadata types that a client without
// EDNS(0) DO must never see (RFC 4035 §3.1.5, RFC 6840 §5.10).
func IsDNSSECMeta(t RecordType) bool {
	switch t {
	case TypeRRSIG, TypeNSEC, TypeNSEC3, TypeDNSKEY, TypeDS, TypeNSEC3PARAM, TypeCDS, TypeCDNSKEY:
		return true
	default:
		return false
	}
}

// IsAlias reports whether a record type redirects a name to another owner
// name (CNAME) or rewrites an entire subtree (DNAME).
func IsAlias(t RecordType) bool {
	return t == TypeCNAME || t == TypeDNAME
}

// RecordClass represents DNS resource record classes (RFC 1035).
type RecordClass uint16

const (
	ClassIN RecordClass = 1
)

// RCode represents DNS response codes (RFC 1035, RFC 6891 extended range).
type RCode uint16

const (
	RCodeNoError  RCode = 0
	RCodeFormErr  RCode = 1
	RCodeServFail RCode = 2
	RCodeNXDomain RCode = 3
	RCodeNotImp   RCode = 4
	RCodeRefused  RCode = 5
	RCodeBadVers  RCode = 16
)
