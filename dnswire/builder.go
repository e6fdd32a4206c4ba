// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package dnswire

import (
	"encoding/binary"
	"io"
	"strings"
)

// builderCore holds the state shared across every phase of a Builder:
// the sink being written to, the position the message started at (so
// section counts can be backpatched), the running section counters,
// and the name-compression dictionary.
//
// The dictionary is keyed by the canonical text suffix of a name (e.g.
// "b.c." for "a.b.c."), mirroring the reference implementation rather
// than a byte-sequence key; this is what the compression round-trip
// tests in this package actually exercise.
type builderCore struct {
	sink      Sink
	beginPos  int64
	namePtrs  map[string]uint16

	questions   uint16
	answers     uint16
	authorities uint16
	additionals uint16
}

func (c *builderCore) currentPos() (int64, error) {
	pos, err := c.sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, wrapIOError(err)
	}
	return pos, nil
}

func (c *builderCore) write(p []byte) error {
	if _, err := c.sink.Write(p); err != nil {
		return wrapIOError(err)
	}
	return nil
}

func (c *builderCore) writeUint16(v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return c.write(buf[:])
}

func (c *builderCore) writeUint32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return c.write(buf[:])
}

func (c *builderCore) writeAt(offset int64, p []byte) error {
	cur, err := c.currentPos()
	if err != nil {
		return err
	}
	if _, err := c.sink.Seek(offset, io.SeekStart); err != nil {
		return wrapIOError(err)
	}
	if _, err := c.sink.Write(p); err != nil {
		return wrapIOError(err)
	}
	if _, err := c.sink.Seek(cur, io.SeekStart); err != nil {
		return wrapIOError(err)
	}
	return nil
}

// packName encodes name with suffix compression, consulting and
// extending c.namePtrs.
func (c *builderCore) packName(name string) error {
	if !isCanonicalName(name) {
		return newError(ErrNonCanonicalName)
	}
	labels := splitLabels(name)

	encodedLen := 1 // root terminator
	for _, label := range labels {
		if len(label) == 0 || len(label) > maxLabelLength {
			return newSizeError(ErrInvalidNameSegmentSize, len(label))
		}
		encodedLen += 1 + len(label)
	}
	if encodedLen > maxWireNameLength {
		return newError(ErrNameTooLong)
	}

	for i, label := range labels {
		suffix := strings.Join(labels[i:], ".") + "."
		if ptr, ok := c.namePtrs[suffix]; ok {
			return c.writeUint16(0xC000 | ptr)
		}

		pos, err := c.currentPos()
		if err != nil {
			return err
		}
		// Compression pointers are offsets from the start of the
		// message (begin_pos), not from the start of the sink — a sink
		// may hold framing bytes written before WriteHeader.
		rel := pos - c.beginPos
		if rel <= 0x3FFF {
			c.namePtrs[suffix] = uint16(rel)
		}

		buf := make([]byte, 1+len(label))
		buf[0] = byte(len(label))
		copy(buf[1:], label)
		if err := c.write(buf); err != nil {
			return err
		}
	}
	return c.write([]byte{0})
}

func (c *builderCore) packQuestion(q Question) error {
	if err := c.packName(q.Name); err != nil {
		return err
	}
	if err := c.writeUint16(q.Type.Raw()); err != nil {
		return err
	}
	return c.writeUint16(q.Class.Raw())
}

func (c *builderCore) packResourceData(d ResourceData) error {
	if d.IsUnknown() {
		return c.write(d.RawData)
	}
	switch d.Kind {
	case TypeA:
		return c.write(d.A[:])
	case TypeAAAA:
		return c.write(d.AAAA[:])
	case TypeNS:
		return c.packName(d.NS)
	case TypeCNAME:
		return c.packName(d.CNAME)
	case TypePTR:
		return c.packName(d.PTR)
	case TypeMX:
		if err := c.writeUint16(d.MXPreference); err != nil {
			return err
		}
		return c.packName(d.MXExchange)
	case TypeSOA:
		if err := c.packName(d.SOAPrimaryNS); err != nil {
			return err
		}
		if err := c.packName(d.SOAMailbox); err != nil {
			return err
		}
		if err := c.writeUint32(d.SOASerial); err != nil {
			return err
		}
		if err := c.writeUint32(d.SOARefresh); err != nil {
			return err
		}
		if err := c.writeUint32(d.SOARetry); err != nil {
			return err
		}
		if err := c.writeUint32(d.SOAExpire); err != nil {
			return err
		}
		return c.writeUint32(d.SOAMinTTL)
	case TypeTXT:
		for _, s := range d.TXT {
			if len(s) > 255 {
				return newError(ErrTextTooLong)
			}
			buf := make([]byte, 1+len(s))
			buf[0] = byte(len(s))
			copy(buf[1:], s)
			if err := c.write(buf); err != nil {
				return err
			}
		}
		return nil
	case TypeSRV:
		if err := c.writeUint16(d.SRVPriority); err != nil {
			return err
		}
		if err := c.writeUint16(d.SRVWeight); err != nil {
			return err
		}
		if err := c.writeUint16(d.SRVPort); err != nil {
			return err
		}
		return c.packName(d.SRVTarget)
	default:
		return c.write(d.RawData)
	}
}

// packResource writes a full resource record, backpatching its
// RDLENGTH once the body has been encoded.
func (c *builderCore) packResource(r Resource) error {
	if err := c.packName(r.Name); err != nil {
		return err
	}

	var typeRaw uint16
	if r.Data.IsUnknown() {
		typeRaw = r.Data.UnknownType.Raw()
	} else {
		typeRaw = uint16(r.Data.Kind)
	}
	if err := c.writeUint16(typeRaw); err != nil {
		return err
	}
	if err := c.writeUint16(r.Class.Raw()); err != nil {
		return err
	}
	if err := c.writeUint32(r.TTL); err != nil {
		return err
	}

	lenPos, err := c.currentPos()
	if err != nil {
		return err
	}
	if err := c.write([]byte{0, 0}); err != nil {
		return err
	}
	rdataStart, err := c.currentPos()
	if err != nil {
		return err
	}
	if err := c.packResourceData(r.Data); err != nil {
		return err
	}
	rdataEnd, err := c.currentPos()
	if err != nil {
		return err
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(rdataEnd-rdataStart))
	return c.writeAt(lenPos, lenBuf[:])
}

// Builder writes a DNS message into a Sink one section at a time. Each
// phase of the message (header, questions, answers, authorities,
// additionals) is represented by its own type, so a program can only
// call the methods valid for the phase it currently holds a handle to.
type Builder struct {
	core *builderCore
}

// NewBuilder returns a Builder ready to write a message's header at
// the sink's current position.
func NewBuilder(sink Sink) *Builder {
	return &Builder{core: &builderCore{sink: sink, namePtrs: make(map[string]uint16)}}
}

// WriteHeader writes the 12-byte message header, with section counts
// left as placeholders to be backpatched as each section finishes, and
// advances to the questions phase.
func (b *Builder) WriteHeader(h Header) (*QuestionsBuilder, error) {
	pos, err := b.core.currentPos()
	if err != nil {
		return nil, err
	}
	b.core.beginPos = pos

	var word uint16
	if h.Response {
		word |= 1 << 15
	}
	word |= uint16(h.Opcode&0xF) << 11
	word |= uint16(h.Flags) & uint16(headerFlagsMask)
	word |= h.RCode.Raw() & 0xF

	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], word)
	if err := b.core.write(buf); err != nil {
		return nil, err
	}
	return &QuestionsBuilder{core: b.core}, nil
}

// QuestionsBuilder writes the question section.
type QuestionsBuilder struct {
	core *builderCore
}

// WriteQuestion appends one question.
func (b *QuestionsBuilder) WriteQuestion(q Question) error {
	if err := b.core.packQuestion(q); err != nil {
		return err
	}
	b.core.questions++
	return nil
}

// FinishQuestions backpatches QDCOUNT and advances to the answers phase.
func (b *QuestionsBuilder) FinishQuestions() (*AnswersBuilder, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], b.core.questions)
	if err := b.core.writeAt(b.core.beginPos+4, buf[:]); err != nil {
		return nil, err
	}
	return &AnswersBuilder{core: b.core}, nil
}

// AnswersBuilder writes the answer section.
type AnswersBuilder struct {
	core *builderCore
}

// WriteAnswer appends one answer resource record.
func (b *AnswersBuilder) WriteAnswer(r Resource) error {
	if err := b.core.packResource(r); err != nil {
		return err
	}
	b.core.answers++
	return nil
}

// FinishAnswers backpatches ANCOUNT and advances to the authorities phase.
func (b *AnswersBuilder) FinishAnswers() (*AuthoritiesBuilder, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], b.core.answers)
	if err := b.core.writeAt(b.core.beginPos+6, buf[:]); err != nil {
		return nil, err
	}
	return &AuthoritiesBuilder{core: b.core}, nil
}

// AuthoritiesBuilder writes the authority section.
type AuthoritiesBuilder struct {
	core *builderCore
}

// WriteAuthority appends one authority resource record.
func (b *AuthoritiesBuilder) WriteAuthority(r Resource) error {
	if err := b.core.packResource(r); err != nil {
		return err
	}
	b.core.authorities++
	return nil
}

// FinishAuthorities backpatches NSCOUNT and advances to the additionals phase.
func (b *AuthoritiesBuilder) FinishAuthorities() (*AdditionalsBuilder, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], b.core.authorities)
	if err := b.core.writeAt(b.core.beginPos+8, buf[:]); err != nil {
		return nil, err
	}
	return &AdditionalsBuilder{core: b.core}, nil
}

// AdditionalsBuilder writes the additional section.
type AdditionalsBuilder struct {
	core *builderCore
}

// WriteAdditional appends one additional resource record.
func (b *AdditionalsBuilder) WriteAdditional(r Resource) error {
	if err := b.core.packResource(r); err != nil {
		return err
	}
	b.core.additionals++
	return nil
}

// IntoInner backpatches ARCOUNT and returns the underlying sink,
// finishing the message.
func (b *AdditionalsBuilder) IntoInner() (Sink, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], b.core.additionals)
	if err := b.core.writeAt(b.core.beginPos+10, buf[:]); err != nil {
		return nil, err
	}
	return b.core.sink, nil
}
