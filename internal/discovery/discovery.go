// Package discovery assembles ServerOnNetwork entries — the OPC UA
// FindServersOnNetwork service's view of a peer server — from the raw
// resource records the engine receives for one DNS-SD service type. It
// is a receive-side, host-facing consumer of internal/nametable, not
// part of the core engine.
package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/open62541/gomdns/internal/nametable"
	"github.com/open62541/gomdns/internal/wire"
)

// ServerOnNetwork describes one peer server discovered announcing the
// tracked service type, mirroring the OPC UA FindServersOnNetwork
// response structure.
type ServerOnNetwork struct {
	RecordID           uint32
	ServerName         string
	DiscoveryURL       string
	ServerCapabilities []string
}

type entry struct {
	recordID     uint32
	serverName   string
	host         string
	port         uint16
	path         string
	capabilities []string
}

// Index assembles ServerOnNetwork entries for one service type, keyed by
// instance name in a nametable.Table the way the original mdnsd library's
// host-facing layer kept its own name-keyed service index.
type Index struct {
	serviceType wire.Name
	table       *nametable.Table
	nextID      uint32
}

// New returns an Index tracking serviceType, e.g. "_opcua-tcp._tcp.local.".
func New(serviceType wire.Name) *Index {
	return &Index{serviceType: serviceType, table: nametable.New()}
}

// Observe feeds one received resource record to the index; records whose
// owner name isn't an instance of the tracked service type are ignored.
// It returns true the first time an entry's SRV record is assembled,
// i.e. a new discovery URL becomes available.
func (idx *Index) Observe(rr wire.ResourceRecord) bool {
	suffix := "." + string(idx.serviceType)
	name := string(rr.Name)
	if !strings.HasSuffix(name, suffix) {
		return false
	}

	e := idx.entryFor(name)

	switch rdata := rr.Rdata.(type) {
	case wire.SRV:
		wasIncomplete := e.host == ""
		e.serverName = strings.TrimSuffix(name, suffix)
		e.host = strings.TrimSuffix(string(rdata.Target), ".")
		e.port = rdata.Port
		return wasIncomplete && e.host != ""
	case wire.TXT:
		e.capabilities, e.path = parseTXT(rdata.Strings)
	}
	return false
}

func (idx *Index) entryFor(name string) *entry {
	if v, ok := idx.table.Get(name); ok {
		return v.(*entry)
	}
	idx.nextID++
	e := &entry{recordID: idx.nextID}
	idx.table.Insert(name, e)
	return e
}

// parseTXT pulls the "path" and "caps" DNS-SD key/value attributes
// (RFC 6763 §6.3) out of a TXT record's strings.
func parseTXT(strs [][]byte) (capabilities []string, path string) {
	for _, s := range strs {
		key, value, ok := strings.Cut(string(s), "=")
		if !ok {
			continue
		}
		switch key {
		case "caps":
			capabilities = strings.Split(value, ",")
		case "path":
			path = value
		}
	}
	return capabilities, path
}

// List returns every server whose SRV record has been observed, in
// discovery order. A server with a TXT record but no SRV yet is omitted:
// there is no discovery URL to report.
func (idx *Index) List() []ServerOnNetwork {
	var out []ServerOnNetwork
	idx.table.Walk(func(_ string, val interface{}) bool {
		e := val.(*entry)
		if e.host == "" {
			return true
		}
		out = append(out, ServerOnNetwork{
			RecordID:           e.recordID,
			ServerName:         e.serverName,
			DiscoveryURL:       discoveryURL(e),
			ServerCapabilities: e.capabilities,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

func discoveryURL(e *entry) string {
	path := e.path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("opc.tcp://%s:%d%s", e.host, e.port, path)
}
