// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package dnswire

import (
	"errors"
	"testing"
)

func buildSimpleQuery(t *testing.T, name string) []byte {
	t.Helper()
	buf := NewBuffer()
	qb, err := NewBuilder(buf).WriteHeader(Header{
		ID:    0x1234,
		Flags: FlagRecursionDesired,
		RCode: KnownRCode(RCodeSuccess),
	})
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := qb.WriteQuestion(Question{Name: name, Type: KnownType(TypeA), Class: KnownClass(ClassINET)}); err != nil {
		t.Fatalf("WriteQuestion: %v", err)
	}
	ab, err := qb.FinishQuestions()
	if err != nil {
		t.Fatalf("FinishQuestions: %v", err)
	}
	auth, err := ab.FinishAnswers()
	if err != nil {
		t.Fatalf("FinishAnswers: %v", err)
	}
	add, err := auth.FinishAuthorities()
	if err != nil {
		t.Fatalf("FinishAuthorities: %v", err)
	}
	if _, err := add.IntoInner(); err != nil {
		t.Fatalf("IntoInner: %v", err)
	}
	return buf.Bytes()
}

// TestBuildSimpleQueryRoundTrips builds a single-question query and
// re-parses it, checking the header and question survive intact.
func TestBuildSimpleQueryRoundTrips(t *testing.T) {
	wire := buildSimpleQuery(t, "www.example.com.")

	pkt, err := NewPacket(wire)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	hdr, err := pkt.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if hdr.ID != 0x1234 {
		t.Fatalf("ID = %#x, want 0x1234", hdr.ID)
	}
	if !hdr.Flags.Has(FlagRecursionDesired) {
		t.Fatal("expected recursion-desired flag set")
	}
	if pkt.QuestionsLen() != 1 {
		t.Fatalf("QuestionsLen = %d, want 1", pkt.QuestionsLen())
	}
	qs := pkt.Questions()
	if qs[0].Err != nil {
		t.Fatalf("Questions[0]: %v", qs[0].Err)
	}
	if qs[0].Question.Name != "www.example.com." {
		t.Fatalf("Name = %q, want www.example.com.", qs[0].Question.Name)
	}
	t.Log("✓ header and question round-trip through build and parse")
}

// TestBuildFullMessage exercises every section and record type in a
// single message: two questions, four answers (three AAAA and a
// CNAME), one NS authority, and A/SOA/PTR/MX/TXT/SRV additionals.
func TestBuildFullMessage(t *testing.T) {
	buf := NewBuffer()
	qb, err := NewBuilder(buf).WriteHeader(Header{
		ID:       0xBEEF,
		Response: true,
		Flags:    FlagAuthoritative | FlagRecursionDesired | FlagRecursionAvailable,
		RCode:    KnownRCode(RCodeSuccess),
	})
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	for _, name := range []string{"a.example.com.", "b.example.com."} {
		if err := qb.WriteQuestion(Question{Name: name, Type: KnownType(TypeAAAA), Class: KnownClass(ClassINET)}); err != nil {
			t.Fatalf("WriteQuestion(%s): %v", name, err)
		}
	}
	ansb, err := qb.FinishQuestions()
	if err != nil {
		t.Fatalf("FinishQuestions: %v", err)
	}

	aaaaAddrs := [][16]byte{
		{0x20, 0x01, 0x0d, 0xb8},
		{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
		{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2},
	}
	for _, addr := range aaaaAddrs {
		r := Resource{Name: "a.example.com.", Class: KnownClass(ClassINET), TTL: 3600, Data: ResourceDataAAAA(addr)}
		if err := ansb.WriteAnswer(r); err != nil {
			t.Fatalf("WriteAnswer(AAAA): %v", err)
		}
	}
	if err := ansb.WriteAnswer(Resource{
		Name: "b.example.com.", Class: KnownClass(ClassINET), TTL: 300,
		Data: ResourceDataCNAME("alias.example.com."),
	}); err != nil {
		t.Fatalf("WriteAnswer(CNAME): %v", err)
	}
	authb, err := ansb.FinishAnswers()
	if err != nil {
		t.Fatalf("FinishAnswers: %v", err)
	}

	if err := authb.WriteAuthority(Resource{
		Name: "example.com.", Class: KnownClass(ClassINET), TTL: 86400,
		Data: ResourceDataNS("ns1.example.com."),
	}); err != nil {
		t.Fatalf("WriteAuthority: %v", err)
	}
	addb, err := authb.FinishAuthorities()
	if err != nil {
		t.Fatalf("FinishAuthorities: %v", err)
	}

	if err := addb.WriteAdditional(Resource{
		Name: "ns1.example.com.", Class: KnownClass(ClassINET), TTL: 86400,
		Data: ResourceDataA([4]byte{192, 0, 2, 1}),
	}); err != nil {
		t.Fatalf("WriteAdditional(A): %v", err)
	}
	if err := addb.WriteAdditional(Resource{
		Name: "example.com.", Class: KnownClass(ClassINET), TTL: 3600,
		Data: ResourceDataSOA("ns1.example.com.", "hostmaster.example.com.", 2024010100, 7200, 3600, 1209600, 300),
	}); err != nil {
		t.Fatalf("WriteAdditional(SOA): %v", err)
	}
	if err := addb.WriteAdditional(Resource{
		Name: "1.2.0.192.in-addr.arpa.", Class: KnownClass(ClassINET), TTL: 3600,
		Data: ResourceDataPTR("host.example.com."),
	}); err != nil {
		t.Fatalf("WriteAdditional(PTR): %v", err)
	}
	if err := addb.WriteAdditional(Resource{
		Name: "example.com.", Class: KnownClass(ClassINET), TTL: 3600,
		Data: ResourceDataMX(10, "mail.example.com."),
	}); err != nil {
		t.Fatalf("WriteAdditional(MX): %v", err)
	}
	if err := addb.WriteAdditional(Resource{
		Name: "example.com.", Class: KnownClass(ClassINET), TTL: 3600,
		Data: ResourceDataTXT("114514", "1919810"),
	}); err != nil {
		t.Fatalf("WriteAdditional(TXT): %v", err)
	}
	if err := addb.WriteAdditional(Resource{
		Name: "_sip._tcp.example.com.", Class: KnownClass(ClassINET), TTL: 3600,
		Data: ResourceDataSRV(10, 20, 5060, "sipserver.example.com."),
	}); err != nil {
		t.Fatalf("WriteAdditional(SRV): %v", err)
	}
	sink, err := addb.IntoInner()
	if err != nil {
		t.Fatalf("IntoInner: %v", err)
	}
	wire := sink.(*Buffer).Bytes()

	pkt, err := NewPacket(wire)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	if pkt.QuestionsLen() != 2 || pkt.AnswersLen() != 4 || pkt.AuthoritiesLen() != 1 || pkt.AdditionalsLen() != 6 {
		t.Fatalf("section lengths = %d/%d/%d/%d, want 2/4/1/6",
			pkt.QuestionsLen(), pkt.AnswersLen(), pkt.AuthoritiesLen(), pkt.AdditionalsLen())
	}

	answerResults := pkt.Answers()
	for i, ar := range answerResults {
		if ar.Err != nil {
			t.Fatalf("answers[%d]: %v", i, ar.Err)
		}
	}
	if answerResults[3].Resource.Data.Kind != TypeCNAME || answerResults[3].Resource.Data.CNAME != "alias.example.com." {
		t.Fatalf("answers[3] = %+v, want CNAME alias.example.com.", answerResults[3].Resource.Data)
	}

	additionalResults := pkt.Additionals()
	for i, ar := range additionalResults {
		if ar.Err != nil {
			t.Fatalf("additionals[%d]: %v", i, ar.Err)
		}
	}
	txt := additionalResults[4].Resource.Data
	if txt.Kind != TypeTXT || len(txt.TXT) != 2 || txt.TXT[0] != "114514" || txt.TXT[1] != "1919810" {
		t.Fatalf("TXT additional = %+v", txt)
	}
	srv := additionalResults[5].Resource.Data
	if srv.Kind != TypeSRV || srv.SRVPriority != 10 || srv.SRVWeight != 20 || srv.SRVPort != 5060 || srv.SRVTarget != "sipserver.example.com." {
		t.Fatalf("SRV additional = %+v", srv)
	}

	t.Log("✓ full message (2 questions, 4 answers, 1 authority, 6 additionals) round-trips")
}

// TestCompressionPointerReuse checks that a shared suffix is encoded
// once and referenced by pointer afterward, and that the parser
// resolves the pointer back to the same name.
func TestCompressionPointerReuse(t *testing.T) {
	buf := NewBuffer()
	qb, err := NewBuilder(buf).WriteHeader(Header{ID: 1, RCode: KnownRCode(RCodeSuccess)})
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	ansb, err := qb.FinishQuestions()
	if err != nil {
		t.Fatalf("FinishQuestions: %v", err)
	}
	if err := ansb.WriteAnswer(Resource{Name: "a.b.c.", Class: KnownClass(ClassINET), TTL: 1, Data: ResourceDataNS("ns.b.c.")}); err != nil {
		t.Fatalf("WriteAnswer 1: %v", err)
	}
	if err := ansb.WriteAnswer(Resource{Name: "b.c.", Class: KnownClass(ClassINET), TTL: 1, Data: ResourceDataA([4]byte{1, 2, 3, 4})}); err != nil {
		t.Fatalf("WriteAnswer 2: %v", err)
	}
	authb, err := ansb.FinishAnswers()
	if err != nil {
		t.Fatalf("FinishAnswers: %v", err)
	}
	addb, err := authb.FinishAuthorities()
	if err != nil {
		t.Fatalf("FinishAuthorities: %v", err)
	}
	sink, err := addb.IntoInner()
	if err != nil {
		t.Fatalf("IntoInner: %v", err)
	}
	wire := sink.(*Buffer).Bytes()

	// "b.c." is first written inside "a.b.c.", so both the NS target
	// "ns.b.c." (one label plus a pointer) and the second answer's owner
	// name "b.c." (a bare 2-byte pointer) must reuse it: 12 header bytes
	// + 22 for the first answer + 16 for the second is 50 bytes, where
	// the same message without compression would take 56.
	if len(wire) != 50 {
		t.Fatalf("expected a 50-byte compressed message, got %d bytes", len(wire))
	}

	pkt, err := NewPacket(wire)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	answerResults := pkt.Answers()
	for i, ar := range answerResults {
		if ar.Err != nil {
			t.Fatalf("answers[%d]: %v", i, ar.Err)
		}
	}
	if answerResults[0].Resource.Name != "a.b.c." || answerResults[1].Resource.Name != "b.c." {
		t.Fatalf("names = %q, %q", answerResults[0].Resource.Name, answerResults[1].Resource.Name)
	}
	if answerResults[0].Resource.Data.NS != "ns.b.c." {
		t.Fatalf("NS target = %q, want ns.b.c.", answerResults[0].Resource.Data.NS)
	}
	t.Log("✓ shared name suffixes compress to pointers and decode back identically")
}

// TestNonCanonicalNameRejected checks that packName refuses a name
// without a trailing dot.
func TestNonCanonicalNameRejected(t *testing.T) {
	buf := NewBuffer()
	qb, err := NewBuilder(buf).WriteHeader(Header{ID: 1, RCode: KnownRCode(RCodeSuccess)})
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	err = qb.WriteQuestion(Question{Name: "example.com", Type: KnownType(TypeA), Class: KnownClass(ClassINET)})
	if !errors.Is(err, ErrNonCanonicalNameError) {
		t.Fatalf("err = %v, want ErrNonCanonicalName", err)
	}
	t.Log("✓ non-canonical names are rejected at encode time")
}

// TestOversizeLabelRejected checks that a label over 63 bytes is
// rejected with its offending size attached.
func TestOversizeLabelRejected(t *testing.T) {
	buf := NewBuffer()
	qb, err := NewBuilder(buf).WriteHeader(Header{ID: 1, RCode: KnownRCode(RCodeSuccess)})
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	oversized := ""
	for i := 0; i < 64; i++ {
		oversized += "x"
	}
	err = qb.WriteQuestion(Question{Name: oversized + ".com.", Type: KnownType(TypeA), Class: KnownClass(ClassINET)})
	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != ErrInvalidNameSegmentSize || derr.Size != 64 {
		t.Fatalf("err = %v, want InvalidNameSegmentSize(64)", err)
	}
	t.Log("✓ oversize labels are rejected with the offending length")
}
