// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package dnswire

import "encoding/binary"

// cursor walks a fixed list of record positions one at a time. It
// starts before the first record; Next must be called (and must
// return true) before current is valid.
type cursor struct {
	recs []recordIndex
	pos  int
}

func (c *cursor) next() bool {
	if c.pos+1 >= len(c.recs) {
		return false
	}
	c.pos++
	return true
}

func (c *cursor) current() (recordIndex, error) {
	if c.pos < 0 || c.pos >= len(c.recs) {
		return recordIndex{}, newError(ErrInvalidCursorState)
	}
	return c.recs[c.pos], nil
}

// SetHeader overwrites the header's ID, response bit, opcode, flags,
// and RCode in place. Section counts are left untouched — they are
// only ever changed by a Builder constructing a new message.
func (p *Packet) SetHeader(h Header) error {
	var word uint16
	if h.Response {
		word |= 1 << 15
	}
	word |= uint16(h.Opcode&0xF) << 11
	word |= uint16(h.Flags) & uint16(headerFlagsMask)
	word |= h.RCode.Raw() & 0xF

	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], word)
	return storeBytes(p.buf, 0, buf[:])
}

func (p *Packet) setRecordType(fields int, t MaybeType) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], t.Raw())
	return storeBytes(p.buf, fields, buf[:])
}

func (p *Packet) setRecordClass(fields int, c MaybeClass) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], c.Raw())
	return storeBytes(p.buf, fields+2, buf[:])
}

func (p *Packet) setResourceTTL(fields int, ttl uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], ttl)
	return storeBytes(p.buf, fields+4, buf[:])
}

// QuestionsCursor walks the question section, allowing TYPE and CLASS
// to be rewritten in place. The name cannot be changed without
// shifting every offset after it, which this cursor does not support —
// by design, per the package's in-place-only mutation model.
type QuestionsCursor struct {
	pkt *Packet
	cur cursor
}

// Next advances to the next question, returning false once exhausted.
func (c *QuestionsCursor) Next() bool { return c.cur.next() }

// Question decodes the question the cursor currently sits on.
func (c *QuestionsCursor) Question() (Question, error) {
	rec, err := c.cur.current()
	if err != nil {
		return Question{}, err
	}
	q, _, err := parseQuestion(c.pkt.buf, rec.start)
	return q, err
}

// NameVisitor returns a zero-copy, re-entrant view of the current
// question's name, without the allocation Question() pays to decode
// the rest of the record alongside it.
func (c *QuestionsCursor) NameVisitor() (NameVisitor, error) {
	rec, err := c.cur.current()
	if err != nil {
		return NameVisitor{}, err
	}
	return nameVisitorAt(c.pkt.buf, rec.start), nil
}

// SetType rewrites the current question's QTYPE.
func (c *QuestionsCursor) SetType(t MaybeType) error {
	rec, err := c.cur.current()
	if err != nil {
		return err
	}
	return c.pkt.setRecordType(rec.fields, t)
}

// SetClass rewrites the current question's QCLASS.
func (c *QuestionsCursor) SetClass(cl MaybeClass) error {
	rec, err := c.cur.current()
	if err != nil {
		return err
	}
	return c.pkt.setRecordClass(rec.fields, cl)
}

// ResourcesCursor walks a resource record section (answers,
// authorities, or additionals), allowing TYPE, CLASS, and TTL to be
// rewritten in place.
type ResourcesCursor struct {
	pkt *Packet
	cur cursor
}

// Next advances to the next resource, returning false once exhausted.
func (c *ResourcesCursor) Next() bool { return c.cur.next() }

// Resource decodes the resource record the cursor currently sits on.
func (c *ResourcesCursor) Resource() (Resource, error) {
	rec, err := c.cur.current()
	if err != nil {
		return Resource{}, err
	}
	r, _, err := parseResource(c.pkt.buf, rec.start)
	return r, err
}

// NameVisitor returns a zero-copy, re-entrant view of the current
// resource's owner name, without the allocation Resource() pays to
// decode the rest of the record alongside it.
func (c *ResourcesCursor) NameVisitor() (NameVisitor, error) {
	rec, err := c.cur.current()
	if err != nil {
		return NameVisitor{}, err
	}
	return nameVisitorAt(c.pkt.buf, rec.start), nil
}

// SetType rewrites the current resource's TYPE.
func (c *ResourcesCursor) SetType(t MaybeType) error {
	rec, err := c.cur.current()
	if err != nil {
		return err
	}
	return c.pkt.setRecordType(rec.fields, t)
}

// SetClass rewrites the current resource's CLASS.
func (c *ResourcesCursor) SetClass(cl MaybeClass) error {
	rec, err := c.cur.current()
	if err != nil {
		return err
	}
	return c.pkt.setRecordClass(rec.fields, cl)
}

// SetTTL rewrites the current resource's TTL.
func (c *ResourcesCursor) SetTTL(ttl uint32) error {
	rec, err := c.cur.current()
	if err != nil {
		return err
	}
	return c.pkt.setResourceTTL(rec.fields, ttl)
}

// QuestionsCursor returns a cursor over the question section.
func (p *Packet) QuestionsCursor() *QuestionsCursor {
	return &QuestionsCursor{pkt: p, cur: cursor{recs: p.sec.questions, pos: -1}}
}

// AnswersCursor returns a cursor over the answer section.
func (p *Packet) AnswersCursor() *ResourcesCursor {
	return &ResourcesCursor{pkt: p, cur: cursor{recs: p.sec.answers, pos: -1}}
}

// AuthoritiesCursor returns a cursor over the authority section.
func (p *Packet) AuthoritiesCursor() *ResourcesCursor {
	return &ResourcesCursor{pkt: p, cur: cursor{recs: p.sec.authorities, pos: -1}}
}

// AdditionalsCursor returns a cursor over the additional section.
func (p *Packet) AdditionalsCursor() *ResourcesCursor {
	return &ResourcesCursor{pkt: p, cur: cursor{recs: p.sec.additionals, pos: -1}}
}
