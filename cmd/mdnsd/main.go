// mdnsd publishes an OPC UA server's discovery records on the local
// network and answers mDNS queries for them, per RFC 6762/6763.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/open62541/gomdns/engine"
	"github.com/open62541/gomdns/internal/discovery"
	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/security"
	"github.com/open62541/gomdns/internal/transport"
	"github.com/open62541/gomdns/internal/wire"
)

// opcuaServiceType is the DNS-SD service type this daemon both publishes
// itself under and watches for peer OPC UA servers announcing.
const opcuaServiceType wire.Name = "_opcua-tcp._tcp.local."

func main() {
	iface := flag.String("iface", "", "network interface to advertise on (default: system default multicast interface)")
	hostname := flag.String("hostname", "", "mDNS hostname, e.g. myserver (required)")
	serverName := flag.String("name", "", "OPC UA server instance name, e.g. \"My OPC UA Server\" (required)")
	port := flag.Int("port", 4840, "OPC UA TCP port advertised in the SRV record")
	logLevel := flag.String("log-level", "info", "log level: debug/info/warn/error")
	rateLimit := flag.Int("rate-limit", 50, "max mDNS queries/second accepted per source IP")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch *logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		log.Fatal().Str("level", *logLevel).Msg("invalid log level")
	}

	if *hostname == "" || *serverName == "" {
		log.Fatal().Msg("--hostname and --name are required")
	}

	var netIface *net.Interface
	if *iface != "" {
		found, err := net.InterfaceByName(*iface)
		if err != nil {
			log.Fatal().Err(err).Str("iface", *iface).Msg("interface not found")
		}
		netIface = found
	} else {
		candidates, err := transport.DefaultInterfaces()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to enumerate network interfaces")
		}
		if len(candidates) == 0 {
			log.Fatal().Msg("no multicast-capable interface found; pass --iface explicitly")
		}
		netIface = &candidates[0]
		log.Info().Str("iface", netIface.Name).Msg("selected default interface")
	}

	tr, err := transport.NewUDPv4Transport(netIface, protocol.MulticastTTL, false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind mDNS multicast socket")
	}
	defer func() { _ = tr.Close() }()

	var filter *security.SourceFilter
	if netIface != nil {
		filter, err = security.NewSourceFilter(*netIface)
		if err != nil {
			log.Warn().Err(err).Msg("source filter degraded to link-local-only check")
		}
	}
	limiter := security.NewRateLimiter(*rateLimit, 5*time.Second, 4096)

	e := engine.New(protocol.ClassIN, protocol.DefaultFrameSize)

	peers := discovery.New(opcuaServiceType)
	e.SetRecvCallback(func(rr wire.ResourceRecord) {
		if peers.Observe(rr) {
			log.Info().Str("name", string(rr.Name)).Msg("discovered OPC UA server on network")
		}
	})

	pub := &servicePublisher{
		e:        e,
		hostFQDN: wire.Name(*hostname + ".local."),
		svcType:  string(opcuaServiceType),
		port:     *port,
	}
	if err := pub.publishHost(time.Now()); err != nil {
		log.Fatal().Err(err).Msg("failed to publish hostname record")
	}
	if err := pub.publishMetaPTR(time.Now()); err != nil {
		log.Fatal().Err(err).Msg("failed to publish DNS-SD meta PTR record")
	}
	if err := pub.publishInstance(*serverName, time.Now()); err != nil {
		log.Fatal().Err(err).Msg("failed to publish OPC UA service instance records")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("hostname", *hostname).Str("name", *serverName).Int("port", *port).Msg("mdnsd started")

	inbound := make(chan inboundPacket, 32)
	go recvPump(ctx, tr, filter, limiter, inbound)
	eventLoop(ctx, tr, e, inbound)

	e.Shutdown(time.Now())
	drainFinal(tr, e)
	log.Info().Msg("mdnsd stopped")
}

type inboundPacket struct {
	data []byte
	addr *net.UDPAddr
}

// recvPump does nothing but read off the socket and filter by source;
// it never touches the engine, so it is safe to run concurrently with
// eventLoop, which owns every Feed/Drain/NextDeadline call.
func recvPump(ctx context.Context, tr *transport.UDPv4Transport, filter *security.SourceFilter, limiter *security.RateLimiter, out chan<- inboundPacket) {
	for {
		packet, addr, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Msg("receive error")
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		if filter != nil && !filter.IsValid(udpAddr.IP) {
			log.Debug().Str("src", udpAddr.IP.String()).Msg("dropped packet outside mDNS scope")
			continue
		}
		if !limiter.Allow(udpAddr.IP.String()) {
			continue
		}

		select {
		case out <- inboundPacket{data: packet, addr: udpAddr}:
		case <-ctx.Done():
			return
		}
	}
}

// eventLoop is the engine's single caller: it serializes every Feed,
// Drain, and NextDeadline call onto one goroutine, as the engine's
// concurrency contract requires (it performs no internal locking).
func eventLoop(ctx context.Context, tr *transport.UDPv4Transport, e *engine.Engine, inbound <-chan inboundPacket) {
	for {
		now := time.Now()
		for {
			packet, dstAddr, dstPort, ok := e.Drain(now)
			if !ok {
				break
			}
			sendPacket(ctx, tr, packet, dstAddr, dstPort)
		}

		select {
		case <-ctx.Done():
			return
		case pkt := <-inbound:
			if err := e.Feed(pkt.data, pkt.addr.IP.String(), pkt.addr.Port, time.Now()); err != nil {
				log.Debug().Err(err).Str("src", pkt.addr.String()).Msg("dropped malformed datagram")
			}
		case <-time.After(e.NextDeadline(now)):
		}
	}
}

func drainFinal(tr *transport.UDPv4Transport, e *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	now := time.Now()
	for {
		packet, dstAddr, dstPort, ok := e.Drain(now)
		if !ok {
			return
		}
		sendPacket(ctx, tr, packet, dstAddr, dstPort)
	}
}

func sendPacket(ctx context.Context, tr *transport.UDPv4Transport, packet []byte, dstAddr string, dstPort int) {
	var dest net.Addr
	if dstAddr == "" {
		dest = tr.MulticastAddr()
	} else {
		dest = &net.UDPAddr{IP: net.ParseIP(dstAddr), Port: dstPort}
	}
	if err := tr.Send(ctx, packet, dest); err != nil {
		log.Debug().Err(err).Str("dst", dest.String()).Msg("send failed")
	}
}

// maxRenameAttempts bounds the rename-on-conflict loop. RFC 6762 §9 sets
// no explicit limit; a cap keeps a pathological network from looping
// the responder through names forever.
const maxRenameAttempts = 10

// servicePublisher owns the OPC UA server's discovery records and
// reacts to a SRV-record naming conflict by republishing under an
// incremented name. The engine has already dropped the collided SRV
// record; the previous name's TXT record is not withdrawn and stays
// published. This mirrors the
// teacher's Register() rename loop without its blocking probe/announce
// state machine: probing and announcing are the engine's job here.
type servicePublisher struct {
	e        *engine.Engine
	hostFQDN wire.Name
	svcType  string
	port     int

	instanceBase string
	attempt      int
	ptrHandle    engine.Handle
}

func (p *servicePublisher) publishHost(now time.Time) error {
	h, err := p.e.PublishUnique(p.hostFQDN, protocol.TypeA, protocol.TTLHostname, func() {
		log.Warn().Str("hostname", string(p.hostFQDN)).Msg("hostname conflict detected, withdrawing record")
	})
	if err != nil {
		return err
	}
	addr, err := localIPv4()
	if err != nil {
		return err
	}
	return p.e.SetRdataA(h, addr, now)
}

// publishMetaPTR registers the _services._dns-sd._udp.local. PTR that
// lets generic DNS-SD browsers enumerate this host's service types
// (RFC 6763 §9), and the PTR from the service type to its instance.
func (p *servicePublisher) publishMetaPTR(now time.Time) error {
	const metaName wire.Name = "_services._dns-sd._udp.local."
	if _, err := p.e.PublishShared(metaName, protocol.TypePTR, protocol.TTLService, now); err != nil {
		return err
	}
	if handles := p.e.Published(metaName, protocol.TypePTR); len(handles) > 0 {
		if err := p.e.SetRdataName(handles[0], wire.Name(p.svcType), now); err != nil {
			return err
		}
	}

	h, err := p.e.PublishShared(wire.Name(p.svcType), protocol.TypePTR, protocol.TTLService, now)
	if err != nil {
		return err
	}
	p.ptrHandle = h
	return nil
}

// publishInstance (re-)publishes the service instance's SRV/TXT records
// under instanceBase, or an incremented rename of it on retry, and
// repoints the service-type PTR at the new instance name.
func (p *servicePublisher) publishInstance(instanceBase string, now time.Time) error {
	p.instanceBase = instanceBase
	p.attempt = 1
	return p.publishInstanceLocked(now)
}

func (p *servicePublisher) publishInstanceLocked(now time.Time) error {
	name := p.instanceBase
	for i := 1; i < p.attempt; i++ {
		name = renameInstance(name)
	}
	instanceFQDN := wire.Name(name + "." + p.svcType)

	if err := p.e.SetRdataName(p.ptrHandle, instanceFQDN, now); err != nil {
		return err
	}

	srvHandle, err := p.e.PublishUnique(instanceFQDN, protocol.TypeSRV, protocol.TTLHostname, p.onInstanceConflict)
	if err != nil {
		return err
	}
	if err := p.e.SetRdataSRV(srvHandle, 0, 0, uint16(p.port), p.hostFQDN, now); err != nil {
		return err
	}

	txtHandle, err := p.e.PublishShared(instanceFQDN, protocol.TypeTXT, protocol.TTLService, now)
	if err != nil {
		return err
	}
	return p.e.SetRdataTXT(txtHandle, engine.BuildTXT(map[string][]byte{
		"path": []byte("/"),
	}), now)
}

func (p *servicePublisher) onInstanceConflict() {
	log.Warn().Str("base", p.instanceBase).Int("attempt", p.attempt).Msg("service instance name conflict detected")
	if p.attempt >= maxRenameAttempts {
		log.Error().Int("attempts", p.attempt).Msg("max rename attempts exceeded, giving up on service instance")
		return
	}
	p.attempt++
	if err := p.publishInstanceLocked(time.Now()); err != nil {
		log.Error().Err(err).Msg("failed to republish renamed service instance")
	}
}

// renameInstance appends or increments a parenthesized numeric suffix,
// e.g. "My Server" -> "My Server (2)" -> "My Server (3)", per the
// renaming convention RFC 6762 §9 points to for DNS-SD instance names.
func renameInstance(name string) string {
	re := regexp.MustCompile(`^(.*) \((\d+)\)$`)
	if m := re.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%s (%d)", m[1], n+1)
	}
	return name + " (2)"
}

func localIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("determine local address: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
