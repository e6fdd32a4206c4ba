// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

// Package hostzone parses static, BIND-like host-record zone files
// into dnswire resource records. It implements no recursion, caching,
// or dynamic updates — a zone is loaded once from disk (or reloaded
// wholesale on a file-change event) and served verbatim.
package hostzone

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/user00265/dnswire/dnswire"
)

// Record is one parsed zone-file entry, ready to drop into a
// dnswire.Resource once its owner name and class are known.
type Record struct {
	TTL  uint32
	Data dnswire.ResourceData
}

// Zone is an in-memory table of host records, keyed by lowercased
// canonical owner name.
type Zone struct {
	entries map[string][]Record
}

// Load parses every file in files into a single Zone. Later files
// append to entries already seen from earlier files.
func Load(files []string) (*Zone, error) {
	z := &Zone{entries: make(map[string][]Record)}
	for _, f := range files {
		if err := z.parseFile(f); err != nil {
			return nil, fmt.Errorf("hostzone: %s: %w", f, err)
		}
	}
	return z, nil
}

// Lookup returns every record at name whose type matches qtype.
func (z *Zone) Lookup(name string, qtype dnswire.RecordType) []Record {
	key := strings.ToLower(normalizeName(name))
	var out []Record
	for _, r := range z.entries[key] {
		if r.Data.Kind == qtype {
			out = append(out, r)
		}
	}
	return out
}

// normalizeName ensures name ends in a trailing dot, mapping "@" and
// "" to the root name ".". A Zone has no origin, so "@" does not stand
// for a zone apex.
func normalizeName(name string) string {
	if name == "@" || name == "" {
		return "."
	}
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

func parseTTL(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// parseFile scans filename line by line, recognizing blank lines,
// "#"-prefixed comments, a "$TTL" directive that sets the default TTL
// for subsequent records, and NAME [TTL] [IN] TYPE VALUE... entries.
func (z *Zone) parseFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	defaultTTL := uint32(3600)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "$") {
			parts := strings.Fields(line)
			if len(parts) > 1 && parts[0] == "$TTL" {
				if ttl, err := parseTTL(parts[1]); err == nil {
					defaultTTL = ttl
				} else {
					slog.Warn("hostzone: invalid $TTL", "file", filename, "line", lineNum, "value", parts[1])
				}
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		name := normalizeName(fields[0])
		idx := 1
		ttl := defaultTTL

		if v, err := parseTTL(fields[idx]); err == nil {
			ttl = v
			idx++
		}
		if idx < len(fields) && strings.EqualFold(fields[idx], "IN") {
			idx++
		}
		if idx >= len(fields) {
			continue
		}

		recordType := strings.ToUpper(fields[idx])
		idx++
		rest := fields[idx:]

		data, ok := parseRecordData(recordType, rest, filename, lineNum)
		if !ok {
			continue
		}

		key := strings.ToLower(name)
		z.entries[key] = append(z.entries[key], Record{TTL: ttl, Data: data})
		slog.Debug("hostzone: entry added", "file", filename, "name", name, "type", recordType)
	}

	return scanner.Err()
}

func parseRecordData(recordType string, fields []string, filename string, lineNum int) (dnswire.ResourceData, bool) {
	switch recordType {
	case "A":
		if len(fields) < 1 {
			return dnswire.ResourceData{}, false
		}
		ip := net.ParseIP(fields[0]).To4()
		if ip == nil {
			slog.Warn("hostzone: invalid A address", "file", filename, "line", lineNum, "value", fields[0])
			return dnswire.ResourceData{}, false
		}
		var a [4]byte
		copy(a[:], ip)
		return dnswire.ResourceDataA(a), true

	case "AAAA":
		if len(fields) < 1 {
			return dnswire.ResourceData{}, false
		}
		ip := net.ParseIP(fields[0]).To16()
		if ip == nil {
			slog.Warn("hostzone: invalid AAAA address", "file", filename, "line", lineNum, "value", fields[0])
			return dnswire.ResourceData{}, false
		}
		var a [16]byte
		copy(a[:], ip)
		return dnswire.ResourceDataAAAA(a), true

	case "NS":
		if len(fields) < 1 {
			return dnswire.ResourceData{}, false
		}
		return dnswire.ResourceDataNS(normalizeName(fields[0])), true

	case "CNAME":
		if len(fields) < 1 {
			return dnswire.ResourceData{}, false
		}
		return dnswire.ResourceDataCNAME(normalizeName(fields[0])), true

	case "PTR":
		if len(fields) < 1 {
			return dnswire.ResourceData{}, false
		}
		return dnswire.ResourceDataPTR(normalizeName(fields[0])), true

	case "MX":
		if len(fields) < 2 {
			slog.Warn("hostzone: MX requires preference and exchange", "file", filename, "line", lineNum)
			return dnswire.ResourceData{}, false
		}
		pref, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			slog.Warn("hostzone: invalid MX preference", "file", filename, "line", lineNum, "value", fields[0])
			return dnswire.ResourceData{}, false
		}
		return dnswire.ResourceDataMX(uint16(pref), normalizeName(fields[1])), true

	case "TXT":
		text := strings.Join(fields, " ")
		text = strings.TrimPrefix(text, `"`)
		text = strings.TrimSuffix(text, `"`)
		if len(text) > 255 {
			text = text[:255]
		}
		return dnswire.ResourceDataTXT(text), true

	case "SRV":
		if len(fields) < 4 {
			slog.Warn("hostzone: SRV requires priority, weight, port, target", "file", filename, "line", lineNum)
			return dnswire.ResourceData{}, false
		}
		priority, err1 := strconv.ParseUint(fields[0], 10, 16)
		weight, err2 := strconv.ParseUint(fields[1], 10, 16)
		port, err3 := strconv.ParseUint(fields[2], 10, 16)
		if err1 != nil || err2 != nil || err3 != nil {
			slog.Warn("hostzone: invalid SRV fields", "file", filename, "line", lineNum)
			return dnswire.ResourceData{}, false
		}
		return dnswire.ResourceDataSRV(uint16(priority), uint16(weight), uint16(port), normalizeName(fields[3])), true

	default:
		return dnswire.ResourceData{}, false
	}
}
