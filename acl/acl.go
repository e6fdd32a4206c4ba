// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

// Package acl implements per-zone allow/deny access control for
// incoming DNS queries, evaluated against the querying resolver's
// source address before a zone is consulted.
package acl

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ACL holds the allow and deny networks checked against a query's
// source IP for one zone. A zero-value ACL (no rules either way)
// allows every query.
type ACL struct {
	Allow []net.IPNet
	Deny  []net.IPNet
}

// parseRule turns one CIDR or bare IP line into a network: a bare IP
// becomes a single-host /32 or /128 network.
func parseRule(rule string) (*net.IPNet, error) {
	if _, ipnet, err := net.ParseCIDR(rule); err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(rule)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP/CIDR: %q", rule)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

// LoadACL loads a zone's ACL from a rule file: blank lines and "#"
// comments are skipped, and "allow:"/"deny:" directive lines switch
// which list the CIDR/IP lines that follow are appended to (default
// allow). An empty filename yields an ACL that allows every query,
// matching a zone with no acl: entry in its config.
func LoadACL(filename string) (*ACL, error) {
	a := &ACL{Allow: make([]net.IPNet, 0), Deny: make([]net.IPNet, 0)}

	if filename == "" {
		return a, nil
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	mode := "allow"

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "allow:") {
			mode = "allow"
			continue
		}
		if strings.HasPrefix(line, "deny:") {
			mode = "deny"
			continue
		}

		ipnet, err := parseRule(line)
		if err != nil {
			slog.Warn("acl: skipping invalid rule", "file", filename, "line", lineNum, "value", line)
			continue
		}
		if mode == "allow" {
			a.Allow = append(a.Allow, *ipnet)
		} else {
			a.Deny = append(a.Deny, *ipnet)
		}
	}

	return a, scanner.Err()
}

// FromRules builds an ACL from a zone config's inline allow/deny rule
// lists. A rule that fails to parse as a CIDR or bare IP is logged and
// skipped rather than failing the whole zone load.
func FromRules(allow, deny []string) (*ACL, error) {
	a := &ACL{Allow: make([]net.IPNet, 0), Deny: make([]net.IPNet, 0)}

	for _, rule := range allow {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		ipnet, err := parseRule(rule)
		if err != nil {
			slog.Warn("acl: skipping invalid allow rule", "value", rule)
			continue
		}
		a.Allow = append(a.Allow, *ipnet)
	}

	for _, rule := range deny {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		ipnet, err := parseRule(rule)
		if err != nil {
			slog.Warn("acl: skipping invalid deny rule", "value", rule)
			continue
		}
		a.Deny = append(a.Deny, *ipnet)
	}

	return a, nil
}

// AllowQuery reports whether a query from ip should be answered by the
// zone this ACL belongs to. Deny rules are checked first and always
// win; if an allow list exists, ip must match one of its networks.
func (a *ACL) AllowQuery(ip net.IP) bool {
	if len(a.Allow) == 0 && len(a.Deny) == 0 {
		return true
	}

	for _, deny := range a.Deny {
		if deny.Contains(ip) {
			return false
		}
	}

	if len(a.Allow) > 0 {
		for _, allow := range a.Allow {
			if allow.Contains(ip) {
				return true
			}
		}
		return false
	}

	return true
}
