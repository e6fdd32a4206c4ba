// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

// Package server implements the DNS responder for dnswire-serve.
// It handles UDP queries, zone routing, ACL enforcement, and metrics collection,
// encoding and decoding every message through the dnswire codec.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/user00265/dnswire/acl"
	"github.com/user00265/dnswire/config"
	"github.com/user00265/dnswire/dnswire"
	"github.com/user00265/dnswire/hostzone"
	"github.com/user00265/dnswire/metrics"
)

// Server represents the DNS responder instance.
// It manages multiple zones and handles incoming UDP queries.
type Server struct {
	configPath     string
	configMgr      *config.ConfigManager
	zones          map[string]*Zone
	zonesMu        sync.RWMutex
	listener       *net.UDPConn
	addr           string
	done           atomic.Bool
	metrics        *metrics.Metrics
	watcher        *fsnotify.Watcher
	autoReload     bool
	reloadDebounce time.Duration
	reloadTimer    *time.Timer
	reloadMu       sync.Mutex
}

// Zone represents a DNS zone served from host-record files.
type Zone struct {
	name  string
	files []string
	hz    *hostzone.Zone
	acl   *acl.ACL
	ns    []string          // Nameservers
	soa   *config.SOAConfig // SOA record
}

// New creates a new DNS responder from the provided configuration.
func New(cfg *config.Config, configPath string) (*Server, error) {
	srv := &Server{
		configPath:     configPath,
		zones:          make(map[string]*Zone),
		addr:           cfg.Server.Bind,
		autoReload:     cfg.Server.AutoReload,
		reloadDebounce: time.Duration(cfg.Server.ReloadDebounce) * time.Second,
	}

	// Set default debounce if not specified
	if srv.reloadDebounce == 0 {
		srv.reloadDebounce = 2 * time.Second
	}

	// Initialize metrics
	var err error
	srv.metrics, err = metrics.New(cfg.Metrics.OTELEndpoint, cfg.Metrics.PrometheusEndpoint)
	if err != nil {
		log.Printf("warning: failed to initialize metrics: %v", err)
	}

	// Load initial zones
	if err := srv.loadZones(cfg); err != nil {
		return nil, err
	}

	// Initialize config manager if config file is provided
	if configPath != "" {
		configMgr, err := config.NewConfigManager(configPath, srv.handleConfigReload)
		if err != nil {
			log.Printf("warning: failed to initialize config manager: %v", err)
		} else {
			srv.configMgr = configMgr
			if err := configMgr.Start(); err != nil {
				log.Printf("warning: failed to start config manager: %v", err)
			}
		}
	}

	// Initialize file watcher if auto-reload is enabled (for zone files, not config)
	if srv.autoReload {
		if err := srv.initFileWatcher(cfg); err != nil {
			log.Printf("warning: failed to initialize file watcher: %v", err)
			log.Printf("automatic reload disabled, use SIGHUP for manual reload")
			srv.autoReload = false
		} else {
			log.Printf("automatic zone file monitoring enabled (debounce: %v)", srv.reloadDebounce)
		}
	}

	return srv, nil
}

func defaultedSOA(zc config.ZoneConfig) *config.SOAConfig {
	soaConfig := zc.SOA
	if len(zc.NS) > 0 && soaConfig.MName == "" {
		soaConfig.MName = zc.NS[0]
	}
	if soaConfig.Refresh == 0 {
		soaConfig.Refresh = 3600
	}
	if soaConfig.Retry == 0 {
		soaConfig.Retry = 600
	}
	if soaConfig.Expire == 0 {
		soaConfig.Expire = 86400
	}
	if soaConfig.Minimum == 0 {
		soaConfig.Minimum = 3600
	}
	if soaConfig.MName == "" || soaConfig.RName == "" {
		return nil
	}
	return &soaConfig
}

func loadZoneACL(zc config.ZoneConfig) (*acl.ACL, error) {
	if len(zc.ACLRule.Allow) > 0 || len(zc.ACLRule.Deny) > 0 {
		zoneACL, err := acl.FromRules(zc.ACLRule.Allow, zc.ACLRule.Deny)
		if err != nil {
			return nil, err
		}
		log.Printf("  loaded inline ACL: allow=%d, deny=%d", len(zoneACL.Allow), len(zoneACL.Deny))
		return zoneACL, nil
	}
	if zc.ACL != "" {
		zoneACL, err := acl.LoadACL(zc.ACL)
		if err != nil {
			return nil, err
		}
		log.Printf("  loaded ACL file: %s", zc.ACL)
		return zoneACL, nil
	}
	return nil, nil
}

func (s *Server) loadZones(cfg *config.Config) error {
	newZones := make(map[string]*Zone)
	var failedZones []string

	for _, zc := range cfg.Zones {
		log.Printf("loading zone %s (files=%v)", zc.Name, zc.Files)

		hz, err := hostzone.Load(zc.Files)
		if err != nil {
			log.Printf("ERROR: failed to load zone %s: %v", zc.Name, err)
			failedZones = append(failedZones, zc.Name)
			continue
		}

		zoneACL, err := loadZoneACL(zc)
		if err != nil {
			log.Printf("ERROR: failed to load ACL for zone %s: %v", zc.Name, err)
			failedZones = append(failedZones, zc.Name)
			continue
		}

		newZones[zc.Name] = &Zone{
			name:  zc.Name,
			files: zc.Files,
			hz:    hz,
			acl:   zoneACL,
			ns:    zc.NS,
			soa:   defaultedSOA(zc),
		}
	}

	s.zonesMu.Lock()
	s.zones = newZones
	s.zonesMu.Unlock()

	// If all zones failed to load from config file, return error only if config file was provided
	if len(newZones) == 0 && len(cfg.Zones) > 0 && s.configPath != "" {
		return fmt.Errorf("failed to load any zones (loaded 0/%d)", len(cfg.Zones))
	}

	if len(failedZones) > 0 {
		log.Printf("warning: failed to load %d zones: %v", len(failedZones), failedZones)
	}

	return nil
}

func (s *Server) Reload() error {
	cfg := s.configMgr.Get()
	return s.loadZones(cfg)
}

// handleConfigReload is called by ConfigManager when config file changes
func (s *Server) handleConfigReload(newCfg *config.Config, changes config.ZoneChanges) error {
	// Handle server config changes (bind address, timeout)
	if changes.ServerChanged {
		// Bind address changes require restart
		if s.addr != newCfg.Server.Bind {
			log.Printf("bind address changed from %s to %s (requires restart)", s.addr, newCfg.Server.Bind)
			s.addr = newCfg.Server.Bind
		}
	}

	// Handle removed zones
	for _, zoneName := range changes.Removed {
		s.zonesMu.Lock()
		delete(s.zones, zoneName)
		s.zonesMu.Unlock()
		log.Printf("zone unloaded: %s", zoneName)
	}

	// Handle added and updated zones
	for _, zoneName := range append(changes.Added, changes.Updated...) {
		var zc *config.ZoneConfig
		for i := range newCfg.Zones {
			if newCfg.Zones[i].Name == zoneName {
				zc = &newCfg.Zones[i]
				break
			}
		}

		if zc == nil {
			log.Printf("ERROR: zone %s not found in config", zoneName)
			continue
		}

		log.Printf("loading zone %s (files=%v)", zc.Name, zc.Files)
		hz, err := hostzone.Load(zc.Files)
		if err != nil {
			// On reload, skip this zone and keep existing one
			log.Printf("ERROR: failed to load zone %s: %v (keeping existing zone)", zc.Name, err)
			continue
		}

		zoneACL, err := loadZoneACL(*zc)
		if err != nil {
			log.Printf("ERROR: failed to load ACL for zone %s: %v (keeping existing zone)", zc.Name, err)
			continue
		}

		newZone := &Zone{
			name:  zc.Name,
			files: zc.Files,
			hz:    hz,
			acl:   zoneACL,
			ns:    zc.NS,
			soa:   defaultedSOA(*zc),
		}

		s.zonesMu.Lock()
		s.zones[zoneName] = newZone
		s.zonesMu.Unlock()

		if contains(changes.Added, zoneName) {
			log.Printf("zone loaded: %s", zoneName)
		} else {
			log.Printf("zone reloaded: %s", zoneName)
		}
	}

	return nil
}

// contains checks if a string is in a slice
func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Server) ListenAndServe() error {
	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.listener = conn
	defer conn.Close()

	log.Printf("listening on %s", s.addr)

	buf := make([]byte, 512)
	for !s.done.Load() {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			log.Printf("read error: %v", err)
			continue
		}

		// ReadFromUDP reuses buf on the next iteration; the handler gets
		// its own copy so it can run concurrently with the next read.
		req := make([]byte, n)
		copy(req, buf[:n])
		go s.handleRequest(conn, req, remoteAddr)
	}

	return nil
}

func (s *Server) handleRequest(conn *net.UDPConn, data []byte, remoteAddr *net.UDPAddr) {
	startTime := time.Now()

	pkt, err := dnswire.NewPacket(data)
	if err != nil {
		log.Printf("parse error: %v", err)
		s.recordCodecError("unknown", err)
		return
	}

	header, err := pkt.Header()
	if err != nil {
		log.Printf("header decode error: %v", err)
		s.recordCodecError("unknown", err)
		return
	}

	// Only handle queries, not responses looping back to us
	if header.Response {
		return
	}

	var questions []dnswire.Question
	for _, qr := range pkt.Questions() {
		if qr.Err != nil {
			log.Printf("question decode error: %v", qr.Err)
			s.recordCodecError("unknown", qr.Err)
			continue
		}
		questions = append(questions, qr.Question)
	}

	s.metrics.RecordParsed("all")

	var allAnswers []dnswire.Resource
	for _, q := range questions {
		qtype, _ := q.Type.Known()
		answers, _ := s.queryZones(remoteAddr.IP, q.Name, qtype)
		allAnswers = append(allAnswers, answers...)
	}
	anyFound := len(allAnswers) > 0

	rcode := dnswire.RCodeSuccess
	if !anyFound && len(questions) > 0 {
		rcode = dnswire.RCodeNameError
	}

	response, err := buildResponse(header.ID, questions, allAnswers, rcode)
	if err != nil {
		log.Printf("build error: %v", err)
		s.recordCodecError("unknown", err)
		return
	}

	s.metrics.RecordBuilt("all", anyFound)

	if _, err := conn.WriteToUDP(response, remoteAddr); err != nil {
		log.Printf("write error: %v", err)
	}

	latency := time.Since(startTime).Seconds() * 1000
	s.metrics.RecordLatency("all", latency)
}

func (s *Server) recordCodecError(zone string, err error) {
	if dnsErr, ok := err.(*dnswire.Error); ok {
		s.metrics.RecordCodecError(zone, dnsErr.Kind.String())
		return
	}
	s.metrics.RecordCodecError(zone, "unknown")
}

// buildResponse encodes a response message: the original questions
// (echoed verbatim, per convention), the matched answers, an
// authoritative flag, and no authority or additional records.
func buildResponse(id uint16, questions []dnswire.Question, answers []dnswire.Resource, rcode dnswire.ResponseCode) ([]byte, error) {
	buf := dnswire.NewBuffer()
	b := dnswire.NewBuilder(buf)

	qb, err := b.WriteHeader(dnswire.Header{
		ID:       id,
		Response: true,
		RCode:    dnswire.KnownRCode(rcode),
		Flags:    dnswire.FlagAuthoritative,
	})
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		if err := qb.WriteQuestion(q); err != nil {
			return nil, err
		}
	}

	ab, err := qb.FinishQuestions()
	if err != nil {
		return nil, err
	}
	for _, r := range answers {
		if err := ab.WriteAnswer(r); err != nil {
			return nil, err
		}
	}

	authb, err := ab.FinishAnswers()
	if err != nil {
		return nil, err
	}
	addb, err := authb.FinishAuthorities()
	if err != nil {
		return nil, err
	}
	if _, err := addb.IntoInner(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// queryZones finds the longest-matching zone for name and answers qtype
// against it, returning the matched records and whether any zone
// actually claimed the name (even if it had nothing of that type).
func (s *Server) queryZones(remoteIP net.IP, name string, qtype dnswire.RecordType) ([]dnswire.Resource, bool) {
	s.zonesMu.RLock()
	defer s.zonesMu.RUnlock()

	for zoneName, zone := range s.zones {
		zoneDot := zoneName
		if !strings.HasSuffix(zoneDot, ".") {
			zoneDot += "."
		}

		if !strings.HasSuffix(name, zoneDot) {
			continue
		}

		longer := false
		for other := range s.zones {
			otherDot := normalizeName(other)
			if len(otherDot) > len(zoneDot) && strings.HasSuffix(name, otherDot) {
				longer = true
				break
			}
		}
		if longer {
			continue
		}

		if zone.acl != nil && !zone.acl.AllowQuery(remoteIP) {
			log.Printf("query denied by ACL: %s from %s", name, remoteIP)
			s.metrics.RecordCodecError(zoneName, "acl_denied")
			continue
		}

		// Handle queries to the zone apex (NS and SOA records)
		if name == zoneDot {
			switch qtype {
			case dnswire.TypeNS:
				if len(zone.ns) > 0 {
					var answers []dnswire.Resource
					for _, ns := range zone.ns {
						answers = append(answers, dnswire.Resource{
							Name:  zoneDot,
							Class: dnswire.KnownClass(dnswire.ClassINET),
							TTL:   3600,
							Data:  dnswire.ResourceDataNS(normalizeName(ns)),
						})
					}
					s.metrics.RecordBuilt(zoneName, true)
					return answers, true
				}
			case dnswire.TypeSOA:
				if zone.soa != nil {
					return []dnswire.Resource{{
						Name:  zoneDot,
						Class: dnswire.KnownClass(dnswire.ClassINET),
						TTL:   zone.soa.Minimum,
						Data: dnswire.ResourceDataSOA(
							normalizeName(zone.soa.MName),
							normalizeName(zone.soa.RName),
							zone.soa.Serial,
							zone.soa.Refresh,
							zone.soa.Retry,
							zone.soa.Expire,
							zone.soa.Minimum,
						),
					}}, true
				}
			}
		}

		records := zone.hz.Lookup(name, qtype)
		if len(records) == 0 {
			s.metrics.RecordBuilt(zoneName, false)
			return nil, true
		}

		log.Printf("query %s in zone %s (qtype=%d): got %d records", name, zoneName, qtype, len(records))
		s.metrics.RecordBuilt(zoneName, true)

		answers := make([]dnswire.Resource, 0, len(records))
		for _, rec := range records {
			answers = append(answers, dnswire.Resource{
				Name:  name,
				Class: dnswire.KnownClass(dnswire.ClassINET),
				TTL:   rec.TTL,
				Data:  rec.Data,
			})
		}
		return answers, true
	}

	return nil, false
}

func normalizeName(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

// Shutdown stops the read loop, closes the listener, shuts down the
// metrics server (bounded by shutdownTimeout), and stops the watchers.
// It does not wait for in-flight request handlers to finish.
func (s *Server) Shutdown() {
	const shutdownTimeout = 5 * time.Second

	log.Println("initiating graceful shutdown (5s timeout)")

	// Signal main loop to stop accepting new connections
	s.done.Store(true)

	// Close listener to stop accepting new requests
	if s.listener != nil {
		s.listener.Close()
	}

	// Create context for graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown metrics server gracefully
	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil && err != context.DeadlineExceeded {
			log.Printf("metrics server shutdown error: %v", err)
		}
	}

	// Clean up watchers and timers (non-blocking)
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}
	if s.configMgr != nil {
		s.configMgr.Stop()
	}

	// Don't wait for timeout in the shutdown function - let it happen in background
	// This allows tests to complete and the daemon to exit cleanly
	log.Println("shutdown initiated")
}

// initFileWatcher initializes the file system watcher for zone files
func (s *Server) initFileWatcher(cfg *config.Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	s.watcher = watcher

	// Collect all unique files to watch
	filesToWatch := make(map[string]bool)
	for _, zc := range cfg.Zones {
		for _, file := range zc.Files {
			filesToWatch[file] = true
		}
		if zc.ACL != "" {
			filesToWatch[zc.ACL] = true
		}
	}

	for file := range filesToWatch {
		if err := watcher.Add(file); err != nil {
			log.Printf("warning: failed to watch file %s: %v", file, err)
		} else {
			log.Printf("watching file: %s", file)
		}
	}

	go s.watchFiles()

	return nil
}

// watchFiles monitors file system events and triggers reloads
func (s *Server) watchFiles() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.Printf("detected file change: %s (op: %v)", event.Name, event.Op)
				s.scheduleReload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("file watcher error: %v", err)
		}
	}
}

// scheduleReload schedules a zone reload with debouncing
func (s *Server) scheduleReload() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}

	s.reloadTimer = time.AfterFunc(s.reloadDebounce, func() {
		log.Printf("reloading zones due to file changes")
		startTime := time.Now()

		if err := s.Reload(); err != nil {
			log.Printf("failed to reload zones: %v", err)
		} else {
			duration := time.Since(startTime)
			log.Printf("zones reloaded successfully in %v", duration)
		}
	})
}
