// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package dnswire

import (
	"encoding/binary"
)

func loadBytes(buf []byte, offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(buf) {
		return nil, newError(ErrShortBuffer)
	}
	return buf[offset : offset+n], nil
}

func storeBytes(buf []byte, offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(buf) {
		return newError(ErrShortBuffer)
	}
	copy(buf[offset:offset+len(data)], data)
	return nil
}

// skipName advances past a name at offset without decoding it. A
// compression pointer terminates the scan immediately; it is never
// dereferenced here, since skipping only needs to know where the name
// representation ends at its point of occurrence.
func skipName(buf []byte, offset int) (int, error) {
	for {
		b, err := loadBytes(buf, offset, 1)
		if err != nil {
			return 0, err
		}
		lb := b[0]
		switch {
		case lb&0xC0 == 0xC0:
			if _, err := loadBytes(buf, offset, 2); err != nil {
				return 0, err
			}
			return offset + 2, nil
		case lb&0xC0 != 0:
			return 0, newError(ErrInvalidNameSegmentBody)
		case lb == 0:
			return offset + 1, nil
		default:
			length := int(lb)
			if _, err := loadBytes(buf, offset+1, length); err != nil {
				return 0, err
			}
			offset += 1 + length
		}
	}
}

// skipQuestion advances past a question at offset, returning the
// offset of its fixed-width TYPE/CLASS fields and the offset of the
// next record.
func skipQuestion(buf []byte, offset int) (fields int, next int, err error) {
	nameEnd, err := skipName(buf, offset)
	if err != nil {
		return 0, 0, err
	}
	if _, err := loadBytes(buf, nameEnd, 4); err != nil {
		return 0, 0, err
	}
	return nameEnd, nameEnd + 4, nil
}

// skipResource advances past a resource record at offset using its
// declared RDLENGTH, returning the offset of its fixed-width
// TYPE/CLASS/TTL fields and the offset of the next record.
func skipResource(buf []byte, offset int) (fields int, next int, err error) {
	nameEnd, err := skipName(buf, offset)
	if err != nil {
		return 0, 0, err
	}
	header, err := loadBytes(buf, nameEnd, 10)
	if err != nil {
		return 0, 0, err
	}
	rdlen := int(binary.BigEndian.Uint16(header[8:10]))
	rdataStart := nameEnd + 10
	if _, err := loadBytes(buf, rdataStart, rdlen); err != nil {
		return 0, 0, newError(ErrPacketSizeMismatch)
	}
	return nameEnd, rdataStart + rdlen, nil
}

// recordIndex locates one question or resource record within a
// packet: start is where its name begins, fields is where its
// fixed-width TYPE (and, for resources, CLASS/TTL) fields begin.
type recordIndex struct {
	start  int
	fields int
}

type sections struct {
	questions   []recordIndex
	answers     []recordIndex
	authorities []recordIndex
	additionals []recordIndex
}

// collectSections walks the packet once, top to bottom, indexing every
// record in every section. It is the only pass that needs to
// understand RDLENGTH-bounded skipping; everything else consults this
// index.
func collectSections(buf []byte) (*sections, error) {
	if len(buf) < 12 {
		return nil, newError(ErrShortBuffer)
	}
	qd := binary.BigEndian.Uint16(buf[4:6])
	an := binary.BigEndian.Uint16(buf[6:8])
	ns := binary.BigEndian.Uint16(buf[8:10])
	ar := binary.BigEndian.Uint16(buf[10:12])

	s := &sections{}
	offset := 12

	for i := 0; i < int(qd); i++ {
		fields, next, err := skipQuestion(buf, offset)
		if err != nil {
			return nil, err
		}
		s.questions = append(s.questions, recordIndex{start: offset, fields: fields})
		offset = next
	}
	for i := 0; i < int(an); i++ {
		fields, next, err := skipResource(buf, offset)
		if err != nil {
			return nil, err
		}
		s.answers = append(s.answers, recordIndex{start: offset, fields: fields})
		offset = next
	}
	for i := 0; i < int(ns); i++ {
		fields, next, err := skipResource(buf, offset)
		if err != nil {
			return nil, err
		}
		s.authorities = append(s.authorities, recordIndex{start: offset, fields: fields})
		offset = next
	}
	for i := 0; i < int(ar); i++ {
		fields, next, err := skipResource(buf, offset)
		if err != nil {
			return nil, err
		}
		s.additionals = append(s.additionals, recordIndex{start: offset, fields: fields})
		offset = next
	}

	if offset != len(buf) {
		return nil, newError(ErrPacketSizeMismatch)
	}
	return s, nil
}

// decodeName fully decodes the name at start into its owned string
// form, following compression pointers up to maxPointerHops deep. It
// returns the decoded canonical name and the offset immediately after
// the name's first occurrence (i.e. after the terminator or the 2-byte
// pointer, whichever came first) — NOT after any pointer target it
// followed. It is a thin convenience wrapper over NameVisitor, the
// package's zero-copy, re-entrant borrowed view of the same name.
func decodeName(buf []byte, start int) (string, int, error) {
	return nameVisitorAt(buf, start).decode()
}

func parseQuestion(buf []byte, offset int) (Question, int, error) {
	name, nameEnd, err := decodeName(buf, offset)
	if err != nil {
		return Question{}, 0, err
	}
	fields, err := loadBytes(buf, nameEnd, 4)
	if err != nil {
		return Question{}, 0, err
	}
	typ := binary.BigEndian.Uint16(fields[0:2])
	cls := binary.BigEndian.Uint16(fields[2:4])
	return Question{Name: name, Type: ParseType(typ), Class: ParseClass(cls)}, nameEnd + 4, nil
}

// parseResourceData decodes a resource body of the given wire type
// occupying [rdataStart, rdataStart+rdlen). Composite types that embed
// a name (NS/CNAME/PTR/MX/SOA/SRV) verify that the decoded name ends
// exactly at the declared boundary; a mismatch means the packet is
// internally inconsistent.
func parseResourceData(buf []byte, rawType uint16, rdataStart, rdlen int) (ResourceData, error) {
	limit := rdataStart + rdlen
	mt := ParseType(rawType)
	known, isKnown := mt.Known()
	if !isKnown {
		raw, err := loadBytes(buf, rdataStart, rdlen)
		if err != nil {
			return ResourceData{}, err
		}
		return ResourceDataUnknown(mt, append([]byte(nil), raw...)), nil
	}

	switch known {
	case TypeA:
		if rdlen != 4 {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		b, err := loadBytes(buf, rdataStart, 4)
		if err != nil {
			return ResourceData{}, err
		}
		var a [4]byte
		copy(a[:], b)
		return ResourceDataA(a), nil

	case TypeAAAA:
		if rdlen != 16 {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		b, err := loadBytes(buf, rdataStart, 16)
		if err != nil {
			return ResourceData{}, err
		}
		var a [16]byte
		copy(a[:], b)
		return ResourceDataAAAA(a), nil

	case TypeNS:
		name, end, err := decodeName(buf, rdataStart)
		if err != nil {
			return ResourceData{}, err
		}
		if end != limit {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		return ResourceDataNS(name), nil

	case TypeCNAME:
		name, end, err := decodeName(buf, rdataStart)
		if err != nil {
			return ResourceData{}, err
		}
		if end != limit {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		return ResourceDataCNAME(name), nil

	case TypePTR:
		name, end, err := decodeName(buf, rdataStart)
		if err != nil {
			return ResourceData{}, err
		}
		if end != limit {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		return ResourceDataPTR(name), nil

	case TypeMX:
		pref, err := loadBytes(buf, rdataStart, 2)
		if err != nil {
			return ResourceData{}, err
		}
		name, end, err := decodeName(buf, rdataStart+2)
		if err != nil {
			return ResourceData{}, err
		}
		if end != limit {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		return ResourceDataMX(binary.BigEndian.Uint16(pref), name), nil

	case TypeSOA:
		primary, end1, err := decodeName(buf, rdataStart)
		if err != nil {
			return ResourceData{}, err
		}
		mailbox, end2, err := decodeName(buf, end1)
		if err != nil {
			return ResourceData{}, err
		}
		fixed, err := loadBytes(buf, end2, 20)
		if err != nil {
			return ResourceData{}, err
		}
		if end2+20 != limit {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		return ResourceDataSOA(
			primary, mailbox,
			binary.BigEndian.Uint32(fixed[0:4]),
			binary.BigEndian.Uint32(fixed[4:8]),
			binary.BigEndian.Uint32(fixed[8:12]),
			binary.BigEndian.Uint32(fixed[12:16]),
			binary.BigEndian.Uint32(fixed[16:20]),
		), nil

	case TypeTXT:
		var strs []string
		off := rdataStart
		for off < limit {
			lb, err := loadBytes(buf, off, 1)
			if err != nil {
				return ResourceData{}, err
			}
			l := int(lb[0])
			sb, err := loadBytes(buf, off+1, l)
			if err != nil {
				return ResourceData{}, err
			}
			strs = append(strs, string(sb))
			off += 1 + l
		}
		if off != limit {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		return ResourceDataTXT(strs...), nil

	case TypeSRV:
		fixed, err := loadBytes(buf, rdataStart, 6)
		if err != nil {
			return ResourceData{}, err
		}
		target, end, err := decodeName(buf, rdataStart+6)
		if err != nil {
			return ResourceData{}, err
		}
		if end != limit {
			return ResourceData{}, newError(ErrPacketSizeMismatch)
		}
		return ResourceDataSRV(
			binary.BigEndian.Uint16(fixed[0:2]),
			binary.BigEndian.Uint16(fixed[2:4]),
			binary.BigEndian.Uint16(fixed[4:6]),
			target,
		), nil

	default:
		raw, err := loadBytes(buf, rdataStart, rdlen)
		if err != nil {
			return ResourceData{}, err
		}
		return ResourceDataUnknown(mt, append([]byte(nil), raw...)), nil
	}
}

func parseResource(buf []byte, offset int) (Resource, int, error) {
	name, nameEnd, err := decodeName(buf, offset)
	if err != nil {
		return Resource{}, 0, err
	}
	hdr, err := loadBytes(buf, nameEnd, 10)
	if err != nil {
		return Resource{}, 0, err
	}
	rawType := binary.BigEndian.Uint16(hdr[0:2])
	rawClass := binary.BigEndian.Uint16(hdr[2:4])
	ttl := binary.BigEndian.Uint32(hdr[4:8])
	rdlen := int(binary.BigEndian.Uint16(hdr[8:10]))
	rdataStart := nameEnd + 10

	data, err := parseResourceData(buf, rawType, rdataStart, rdlen)
	if err != nil {
		return Resource{}, 0, err
	}
	return Resource{Name: name, Class: ParseClass(rawClass), TTL: ttl, Data: data}, rdataStart + rdlen, nil
}

// Packet is a parsed DNS message. Parsing indexes the position of
// every record up front (a single top-to-bottom scan) but only decodes
// a record's contents when it is actually requested, so a caller that
// only needs the header never pays to decode the sections.
type Packet struct {
	buf []byte
	sec *sections
}

// NewPacket indexes buf as a DNS message. It does not copy buf; the
// returned Packet borrows it for as long as it is used.
func NewPacket(buf []byte) (*Packet, error) {
	sec, err := collectSections(buf)
	if err != nil {
		return nil, err
	}
	return &Packet{buf: buf, sec: sec}, nil
}

// IntoInner returns the packet's underlying buffer.
func (p *Packet) IntoInner() []byte {
	return p.buf
}

// Header decodes the 12-byte message header.
func (p *Packet) Header() (Header, error) {
	fields, err := loadBytes(p.buf, 0, 4)
	if err != nil {
		return Header{}, err
	}
	id := binary.BigEndian.Uint16(fields[0:2])
	word := binary.BigEndian.Uint16(fields[2:4])
	return Header{
		ID:       id,
		Response: word&(1<<15) != 0,
		Opcode:   uint8((word >> 11) & 0xF),
		RCode:    ParseRCode(word & 0xF),
		Flags:    HeaderFlags(word) & headerFlagsMask,
	}, nil
}

func (p *Packet) QuestionsLen() int   { return len(p.sec.questions) }
func (p *Packet) AnswersLen() int     { return len(p.sec.answers) }
func (p *Packet) AuthoritiesLen() int { return len(p.sec.authorities) }
func (p *Packet) AdditionalsLen() int { return len(p.sec.additionals) }

// QuestionResult is one item of a question-section decode: either the
// successfully parsed Question, or the error that record alone
// produced. Iteration never aborts on a bad record — one malformed
// question does not keep its neighbors from decoding; the caller
// decides per item whether to use, log, or discard it.
type QuestionResult struct {
	Question Question
	Err      error
}

// ResourceResult is the resource-record equivalent of QuestionResult,
// used for the answer, authority, and additional sections alike.
type ResourceResult struct {
	Resource Resource
	Err      error
}

// Questions decodes the question section, one record independently of
// the next.
func (p *Packet) Questions() []QuestionResult {
	out := make([]QuestionResult, 0, len(p.sec.questions))
	for _, rec := range p.sec.questions {
		q, _, err := parseQuestion(p.buf, rec.start)
		out = append(out, QuestionResult{Question: q, Err: err})
	}
	return out
}

func (p *Packet) parseResourceSection(recs []recordIndex) []ResourceResult {
	out := make([]ResourceResult, 0, len(recs))
	for _, rec := range recs {
		r, _, err := parseResource(p.buf, rec.start)
		out = append(out, ResourceResult{Resource: r, Err: err})
	}
	return out
}

// Answers decodes the answer section, one record independently of the next.
func (p *Packet) Answers() []ResourceResult { return p.parseResourceSection(p.sec.answers) }

// Authorities decodes the authority section, one record independently of the next.
func (p *Packet) Authorities() []ResourceResult { return p.parseResourceSection(p.sec.authorities) }

// Additionals decodes the additional section, one record independently of the next.
func (p *Packet) Additionals() []ResourceResult { return p.parseResourceSection(p.sec.additionals) }
