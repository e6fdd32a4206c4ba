// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

// Package dnswire encodes and decodes DNS messages on the wire: the
// binary format used for queries and responses. It provides a
// streaming builder with domain-name compression, a lazy zero-copy
// parser, and an in-place mutation cursor. It does not implement
// transport, resolver logic, zone-file text formats, EDNS(0) options,
// or DNSSEC validation — those are external collaborators that consume
// this package through byte slices.
package dnswire

// RecordType identifies a DNS resource record type.
type RecordType uint16

const (
	TypeA     RecordType = 1
	TypeNS    RecordType = 2
	TypeCNAME RecordType = 5
	TypeSOA   RecordType = 6
	TypeWKS   RecordType = 11
	TypePTR   RecordType = 12
	TypeHINFO RecordType = 13
	TypeMINFO RecordType = 14
	TypeMX    RecordType = 15
	TypeTXT   RecordType = 16
	TypeAAAA  RecordType = 28
	TypeSRV   RecordType = 33
	TypeOPT   RecordType = 41
	TypeAXFR  RecordType = 252
	TypeALL   RecordType = 255
)

func isValidRecordType(raw uint16) bool {
	switch RecordType(raw) {
	case TypeA, TypeNS, TypeCNAME, TypeSOA, TypeWKS, TypePTR, TypeHINFO,
		TypeMINFO, TypeMX, TypeTXT, TypeAAAA, TypeSRV, TypeOPT, TypeAXFR, TypeALL:
		return true
	default:
		return false
	}
}

// MaybeType is a MaybeUnknown specialized for RecordType.
type MaybeType = MaybeUnknown[RecordType]

// KnownType wraps a known RecordType.
func KnownType(t RecordType) MaybeType { return KnownValue(t) }

// ParseType builds a MaybeType from a raw 16-bit wire value.
func ParseType(raw uint16) MaybeType { return fromRaw[RecordType](raw, isValidRecordType) }

// RecordClass identifies a DNS record class.
type RecordClass uint16

const (
	ClassINET   RecordClass = 1
	ClassCSNET  RecordClass = 2
	ClassCHAOS  RecordClass = 3
	ClassHESIOD RecordClass = 4
	ClassANY    RecordClass = 255
)

func isValidRecordClass(raw uint16) bool {
	switch RecordClass(raw) {
	case ClassINET, ClassCSNET, ClassCHAOS, ClassHESIOD, ClassANY:
		return true
	default:
		return false
	}
}

// MaybeClass is a MaybeUnknown specialized for RecordClass.
type MaybeClass = MaybeUnknown[RecordClass]

// KnownClass wraps a known RecordClass.
func KnownClass(c RecordClass) MaybeClass { return KnownValue(c) }

// ParseClass builds a MaybeClass from a raw 16-bit wire value.
func ParseClass(raw uint16) MaybeClass { return fromRaw[RecordClass](raw, isValidRecordClass) }

// ResponseCode is a DNS header response code.
type ResponseCode uint16

const (
	RCodeSuccess        ResponseCode = 0
	RCodeFormatError    ResponseCode = 1
	RCodeServerFailure  ResponseCode = 2
	RCodeNameError      ResponseCode = 3
	RCodeNotImplemented ResponseCode = 4
	RCodeRefused        ResponseCode = 5
)

func isValidResponseCode(raw uint16) bool {
	switch ResponseCode(raw) {
	case RCodeSuccess, RCodeFormatError, RCodeServerFailure, RCodeNameError,
		RCodeNotImplemented, RCodeRefused:
		return true
	default:
		return false
	}
}

// MaybeRCode is a MaybeUnknown specialized for ResponseCode.
type MaybeRCode = MaybeUnknown[ResponseCode]

// KnownRCode wraps a known ResponseCode.
func KnownRCode(c ResponseCode) MaybeRCode { return KnownValue(c) }

// ParseRCode builds a MaybeRCode from a 4-bit wire value (only the low
// nibble of the header flag word carries it).
func ParseRCode(raw uint16) MaybeRCode { return fromRaw[ResponseCode](raw, isValidResponseCode) }

// HeaderFlags is the bitmask of boolean flags packed into the header's
// 16-bit flag word, excluding the response bit, opcode, and rcode
// (those are separate Header fields).
type HeaderFlags uint16

const (
	FlagAuthoritative      HeaderFlags = 1 << 10
	FlagTruncated          HeaderFlags = 1 << 9
	FlagRecursionDesired   HeaderFlags = 1 << 8
	FlagRecursionAvailable HeaderFlags = 1 << 7
	FlagReversed           HeaderFlags = 1 << 6
	FlagAuthenticData      HeaderFlags = 1 << 5
	FlagCheckingDisabled   HeaderFlags = 1 << 4

	headerFlagsMask HeaderFlags = FlagAuthoritative | FlagTruncated | FlagRecursionDesired |
		FlagRecursionAvailable | FlagReversed | FlagAuthenticData | FlagCheckingDisabled
)

// Has reports whether every bit set in want is also set in f.
func (f HeaderFlags) Has(want HeaderFlags) bool {
	return f&want == want
}

// Header is the DNS message header, with the four section counters
// (questions/answers/authorities/additionals) managed separately by the
// Builder and Packet rather than exposed here.
type Header struct {
	ID       uint16
	Response bool
	Opcode   uint8
	RCode    MaybeRCode
	Flags    HeaderFlags
}

// Question is a single entry of the question section.
type Question struct {
	Name  string
	Type  MaybeType
	Class MaybeClass
}

// ResourceData is the body of a resource record. It is a flattened
// tagged union: Kind selects which of the fields below are meaningful.
// For records of an unrecognized wire type, Kind is the zero value
// (unknownKind), which names no record type — callers must check
// IsUnknown(); UnknownType then carries the exact wire type and
// RawData the verbatim body bytes.
//
// SRV.Target is decoded through the same compressed-name path as
// NS/CNAME/PTR targets; strict DNS profiles disallow compression in SRV
// targets, but this codec is permissive by design (mirrors the
// reference implementation's choice).
type ResourceData struct {
	Kind RecordType

	// UnknownType and RawData are populated when the record's wire type
	// does not match any of the known Kind values below.
	UnknownType MaybeType
	RawData     []byte

	A    [4]byte
	AAAA [16]byte

	NS    string
	CNAME string
	PTR   string

	MXPreference uint16
	MXExchange   string

	SOAPrimaryNS string
	SOAMailbox   string
	SOASerial    uint32
	SOARefresh   uint32
	SOARetry     uint32
	SOAExpire    uint32
	SOAMinTTL    uint32

	TXT []string

	SRVPriority uint16
	SRVWeight   uint16
	SRVPort     uint16
	SRVTarget   string
}

// unknownKind is used internally to mark a ResourceData as carrying a
// record type this package doesn't model explicitly.
const unknownKind RecordType = 0

// IsUnknown reports whether this ResourceData holds an opaque,
// unrecognized record body.
func (d ResourceData) IsUnknown() bool {
	return d.Kind == unknownKind
}

// ResourceDataA builds an A record body from a 4-byte IPv4 address.
func ResourceDataA(addr [4]byte) ResourceData {
	return ResourceData{Kind: TypeA, A: addr}
}

// ResourceDataAAAA builds an AAAA record body from a 16-byte IPv6 address.
func ResourceDataAAAA(addr [16]byte) ResourceData {
	return ResourceData{Kind: TypeAAAA, AAAA: addr}
}

// ResourceDataNS builds an NS record body.
func ResourceDataNS(ns string) ResourceData {
	return ResourceData{Kind: TypeNS, NS: ns}
}

// ResourceDataCNAME builds a CNAME record body.
func ResourceDataCNAME(cname string) ResourceData {
	return ResourceData{Kind: TypeCNAME, CNAME: cname}
}

// ResourceDataPTR builds a PTR record body.
func ResourceDataPTR(ptr string) ResourceData {
	return ResourceData{Kind: TypePTR, PTR: ptr}
}

// ResourceDataMX builds an MX record body.
func ResourceDataMX(preference uint16, exchange string) ResourceData {
	return ResourceData{Kind: TypeMX, MXPreference: preference, MXExchange: exchange}
}

// ResourceDataSOA builds an SOA record body.
func ResourceDataSOA(primaryNS, mailbox string, serial, refresh, retry, expire, minTTL uint32) ResourceData {
	return ResourceData{
		Kind:         TypeSOA,
		SOAPrimaryNS: primaryNS,
		SOAMailbox:   mailbox,
		SOASerial:    serial,
		SOARefresh:   refresh,
		SOARetry:     retry,
		SOAExpire:    expire,
		SOAMinTTL:    minTTL,
	}
}

// ResourceDataTXT builds a TXT record body from a sequence of strings,
// each encoded as its own length-prefixed wire string.
func ResourceDataTXT(strs ...string) ResourceData {
	return ResourceData{Kind: TypeTXT, TXT: strs}
}

// ResourceDataSRV builds an SRV record body.
func ResourceDataSRV(priority, weight, port uint16, target string) ResourceData {
	return ResourceData{Kind: TypeSRV, SRVPriority: priority, SRVWeight: weight, SRVPort: port, SRVTarget: target}
}

// ResourceDataUnknown builds an opaque record body, carrying the raw
// wire type and the body bytes verbatim.
func ResourceDataUnknown(typ MaybeType, raw []byte) ResourceData {
	return ResourceData{Kind: unknownKind, UnknownType: typ, RawData: raw}
}

// Resource is a single entry of the answer, authority, or additional
// section.
type Resource struct {
	Name  string
	Class MaybeClass
	TTL   uint32
	Data  ResourceData
}
