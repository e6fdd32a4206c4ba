// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package dnswire

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf8"
)

// maxWireNameLength is the open-question bound from spec.md §9: the
// reference implementation declares NameTooLong but never raises it.
// This port enforces it on both encode and decode.
const maxWireNameLength = 255

// maxLabelLength is the largest length a single label may declare (the
// two high bits of the length byte are reserved for the pointer tag).
const maxLabelLength = 63

// maxPointerHops bounds how many compression pointers a single name
// resolution may follow before giving up.
const maxPointerHops = 10

// isCanonicalName reports whether name is in canonical form: it ends
// with a trailing dot, or is exactly the root ".".
func isCanonicalName(name string) bool {
	return name == "." || strings.HasSuffix(name, ".")
}

// splitLabels splits a canonical name into its labels, excluding the
// root. "." and "" both yield no labels. The caller must have already
// verified canonical form.
func splitLabels(name string) []string {
	if name == "" || name == "." {
		return nil
	}
	trimmed := name[:len(name)-1]
	return strings.Split(trimmed, ".")
}

// NameVisitor is a borrowed, zero-copy view onto a name encoded
// somewhere in a packet buffer: it is nothing but a buffer reference
// and a start offset, so constructing one never allocates or follows a
// compression pointer. Walking it (Each or String) is re-entrant — the
// same visitor can be walked any number of times, each time starting
// fresh from start, which matters because a name can be the target of
// more than one compression pointer.
type NameVisitor struct {
	buf   []byte
	start int
}

// nameVisitorAt returns a borrowed view of the name beginning at start.
func nameVisitorAt(buf []byte, start int) NameVisitor {
	return NameVisitor{buf: buf, start: start}
}

// Each walks the name's labels left to right, calling yield with each
// label's raw bytes — a slice of buf, not a copy. It follows
// compression pointers up to maxPointerHops deep and returns the
// offset immediately after the name's first occurrence (after its
// terminator byte or its 2-byte pointer, whichever came first; never
// after a followed pointer's target). yield may return an error to
// stop the walk early.
func (v NameVisitor) Each(yield func(label []byte) error) (int, error) {
	offset := v.start
	endOffset := -1
	hops := 0

	for {
		b, err := loadBytes(v.buf, offset, 1)
		if err != nil {
			return 0, err
		}
		lb := b[0]
		switch {
		case lb&0xC0 == 0xC0:
			ptrBytes, err := loadBytes(v.buf, offset, 2)
			if err != nil {
				return 0, err
			}
			if endOffset == -1 {
				endOffset = offset + 2
			}
			hops++
			if hops > maxPointerHops {
				return 0, newError(ErrTooManyPointers)
			}
			offset = int(binary.BigEndian.Uint16(ptrBytes) & 0x3FFF)
		case lb&0xC0 != 0:
			return 0, newError(ErrInvalidNameSegmentBody)
		case lb == 0:
			if endOffset == -1 {
				endOffset = offset + 1
			}
			return endOffset, nil
		default:
			length := int(lb)
			labelBytes, err := loadBytes(v.buf, offset+1, length)
			if err != nil {
				return 0, err
			}
			if err := yield(labelBytes); err != nil {
				return 0, err
			}
			offset += 1 + length
		}
	}
}

// decode walks the name once, validating and materializing each label,
// and returns its owned canonical string form alongside the end offset
// decodeName's callers need.
func (v NameVisitor) decode() (string, int, error) {
	var labels []string
	totalLen := 0
	end, err := v.Each(func(label []byte) error {
		if bytes.ContainsRune(label, '.') || !utf8.Valid(label) {
			return newError(ErrInvalidNameSegmentBody)
		}
		labels = append(labels, string(label))
		totalLen += 1 + len(label)
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	totalLen++ // root terminator
	if totalLen > maxWireNameLength {
		return "", 0, newError(ErrNameTooLong)
	}
	if len(labels) == 0 {
		return ".", end, nil
	}
	return strings.Join(labels, ".") + ".", end, nil
}

// String materializes the name into its owned, canonical dotted form
// (e.g. "www.example.com."), the conversion from the borrowed view to
// the owned representation that the rest of the package works with.
func (v NameVisitor) String() (string, error) {
	s, _, err := v.decode()
	return s, err
}
