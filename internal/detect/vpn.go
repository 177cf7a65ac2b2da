package detect

import (
	"context"
	"net"
	"strings"

	"github.com/linkgate/linkgate/internal/signal"
	"github.com/linkgate/linkgate/internal/signal/cache"
)

// Sub-check point contributions. Each check feeds one or more of the four
// independent scores; the category thresholds live in signal.Thresholds.
const (
	vpnRangePoints       = 60 // IP inside a known VPN provider range
	vpnRDNSPoints        = 40 // vpn keyword in reverse DNS
	proxyRDNSPoints      = 40 // proxy keyword in reverse DNS
	torRDNSPoints        = 50 // tor keyword in reverse DNS
	vpnOrgPoints         = 30 // vpn keyword in ASN org name
	proxyOrgPoints       = 20
	hostingOrgPoints     = 40 // hosting keyword in ASN org name
	hostingASNPoints     = 60 // ASN on the hosting blacklist
	hostingASNVPNPoints  = 10
	hostingRangePoints   = 50 // IP inside a datacenter CIDR
	torExitPoints        = 100 // IP in the Tor exit-node set
	blacklistProxyPoints = 40 // public blacklist hit
	blacklistVPNPoints   = 10
	openPortTorPoints    = 30 // tor control/relay ports open
	openPortProxyPoints  = 20
)

var rdnsVPNKeywords = []string{"vpn", "tunnel", "hide-my", "anonymizer"}
var rdnsProxyKeywords = []string{"proxy", "relay"}
var rdnsTorKeywords = []string{"tor-exit", "tor-relay", "exit-node", "exitnode"}

var orgVPNKeywords = []string{"vpn", "nord", "express", "surfshark", "mullvad", "private internet"}
var orgProxyKeywords = []string{"proxy", "anonym"}
var orgHostingKeywords = []string{"hosting", "cloud", "datacenter", "data center", "server", "vps", "dedicated", "colo"}

// ASNLookup resolves an IP to its autonomous system. Implementations: the
// MaxMind ASN database, or a static map for tests.
type ASNLookup interface {
	LookupASN(ip string) (asn uint, org string, err error)
}

// Reputation is a pluggable external blacklist verdict.
type Reputation struct {
	Suspicious bool
	Confidence int // 0-100
}

// ReputationChecker stands in for a real IP reputation provider. Wire an
// actual service here rather than simulating one.
type ReputationChecker interface {
	CheckIP(ctx context.Context, ip string) (Reputation, error)
}

// PortProbe reports remotely visible ports associated with proxy or Tor
// infrastructure. Optional; nil disables the check.
type PortProbe interface {
	OpenPorts(ctx context.Context, ip string) ([]int, error)
}

// reverseResolver matches *net.Resolver so tests can count lookups.
type reverseResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// VPNDetector runs a battery of sub-checks against the source IP and scores
// four independent categories: vpn, proxy, hosting, tor. Results are cached
// by IP so repeat visits skip the DNS and ASN lookups.
type VPNDetector struct {
	th    signal.Thresholds
	cache cache.Store

	vpnRanges     []*net.IPNet
	hostingRanges []*net.IPNet
	hostingASNs   map[uint]string
	torExits      map[string]bool

	asn        ASNLookup         // optional
	reputation ReputationChecker // optional
	ports      PortProbe         // optional
	resolver   reverseResolver
}

// VPNConfig assembles the detector's data sources.
type VPNConfig struct {
	VPNCIDRs     []string
	HostingCIDRs []string
	HostingASNs  map[uint]string
	TorExitIPs   []string

	ASN        ASNLookup
	Reputation ReputationChecker
	Ports      PortProbe
}

// NewVPNDetector builds the detector. Malformed CIDRs are skipped.
func NewVPNDetector(th signal.Thresholds, store cache.Store, cfg VPNConfig) *VPNDetector {
	d := &VPNDetector{
		th:          th,
		cache:       store,
		hostingASNs: cfg.HostingASNs,
		torExits:    make(map[string]bool, len(cfg.TorExitIPs)),
		asn:         cfg.ASN,
		reputation:  cfg.Reputation,
		ports:       cfg.Ports,
		resolver:    net.DefaultResolver,
	}
	d.vpnRanges = parseCIDRs(cfg.VPNCIDRs)
	d.hostingRanges = parseCIDRs(cfg.HostingCIDRs)
	for _, ip := range cfg.TorExitIPs {
		d.torExits[strings.TrimSpace(ip)] = true
	}
	return d
}

// SetResolver replaces the reverse-DNS resolver. Test hook.
func (d *VPNDetector) SetResolver(r reverseResolver) { d.resolver = r }

func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if _, ipNet, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			nets = append(nets, ipNet)
		}
	}
	return nets
}

func (d *VPNDetector) Kind() signal.Kind { return signal.KindVPN }

func (d *VPNDetector) Evaluate(ctx context.Context, rc *signal.RequestContext) (signal.Result, error) {
	if rc.IP == "" {
		return signal.Neutral(signal.KindVPN), nil
	}
	if d.cache != nil {
		if res, ok := d.cache.Get(ctx, signal.KindVPN, rc.IP); ok {
			return res, nil
		}
	}

	res := d.score(ctx, rc.IP)

	if d.cache != nil {
		d.cache.Put(ctx, signal.KindVPN, rc.IP, res)
	}
	return res, nil
}

func (d *VPNDetector) score(ctx context.Context, ipStr string) signal.Result {
	info := signal.VPNInfo{}
	var evidence []string

	ip := net.ParseIP(ipStr)

	// Tor exit set first; it dominates everything else.
	if d.torExits[ipStr] {
		info.TorScore += torExitPoints
		evidence = append(evidence, "tor_exit_node")
	}

	if ip != nil {
		for _, n := range d.vpnRanges {
			if n.Contains(ip) {
				info.VPNScore += vpnRangePoints
				evidence = append(evidence, "vpn_ip_range")
				break
			}
		}
		for _, n := range d.hostingRanges {
			if n.Contains(ip) {
				info.HostingScore += hostingRangePoints
				evidence = append(evidence, "hosting_ip_range")
				break
			}
		}
	}

	// Reverse DNS keywords. A failed lookup contributes nothing.
	if names, err := d.resolver.LookupAddr(ctx, ipStr); err == nil {
		for _, name := range names {
			lower := strings.ToLower(name)
			if kw := firstMatch(lower, rdnsTorKeywords); kw != "" {
				info.TorScore += torRDNSPoints
				evidence = append(evidence, "rdns:"+kw)
			} else if kw := firstMatch(lower, rdnsVPNKeywords); kw != "" {
				info.VPNScore += vpnRDNSPoints
				evidence = append(evidence, "rdns:"+kw)
			} else if kw := firstMatch(lower, rdnsProxyKeywords); kw != "" {
				info.ProxyScore += proxyRDNSPoints
				evidence = append(evidence, "rdns:"+kw)
			}
		}
	}

	// ASN and organization name.
	if d.asn != nil {
		if asn, org, err := d.asn.LookupASN(ipStr); err == nil && asn != 0 {
			lower := strings.ToLower(org)
			if provider, ok := d.hostingASNs[asn]; ok {
				info.HostingScore += hostingASNPoints
				info.VPNScore += hostingASNVPNPoints
				evidence = append(evidence, "hosting_asn:"+provider)
			}
			if kw := firstMatch(lower, orgVPNKeywords); kw != "" {
				info.VPNScore += vpnOrgPoints
				evidence = append(evidence, "org:"+kw)
			}
			if kw := firstMatch(lower, orgProxyKeywords); kw != "" {
				info.ProxyScore += proxyOrgPoints
				evidence = append(evidence, "org:"+kw)
			}
			if kw := firstMatch(lower, orgHostingKeywords); kw != "" {
				info.HostingScore += hostingOrgPoints
				evidence = append(evidence, "org:"+kw)
			}
		}
	}

	// Public blacklist membership.
	if d.reputation != nil {
		if rep, err := d.reputation.CheckIP(ctx, ipStr); err == nil && rep.Suspicious {
			info.ProxyScore += blacklistProxyPoints
			info.VPNScore += blacklistVPNPoints
			evidence = append(evidence, "ip_blacklist")
		}
	}

	// Open-port heuristics.
	if d.ports != nil {
		if open, err := d.ports.OpenPorts(ctx, ipStr); err == nil {
			for _, p := range open {
				switch p {
				case 9001, 9030, 9050, 9051, 9150:
					info.TorScore += openPortTorPoints
					evidence = append(evidence, "tor_port_open")
				case 1080, 3128, 8080, 8888:
					info.ProxyScore += openPortProxyPoints
					evidence = append(evidence, "proxy_port_open")
				}
			}
		}
	}

	info.IsVPN = info.VPNScore >= d.th.VPNScoreMin
	info.IsProxy = info.ProxyScore >= d.th.ProxyScoreMin
	info.IsTor = info.TorScore >= d.th.TorScoreMin
	info.IsHosting = info.HostingScore >= d.th.HostingScoreMin
	info.IsRelay = info.VPNScore+info.ProxyScore >= d.th.RelayScoreMin

	confidence := signal.Clamp(info.VPNScore+info.ProxyScore+info.HostingScore, 0, 100)

	tier := signal.TierLow
	switch {
	case info.IsTor || (info.IsVPN && confidence > 80):
		tier = signal.TierHigh
	case (info.IsVPN || info.IsProxy) && confidence > 50:
		tier = signal.TierMedium
	}

	return signal.Result{
		Kind:       signal.KindVPN,
		Verdict:    info.IsVPN || info.IsProxy || info.IsTor,
		Confidence: confidence,
		Tier:       tier,
		Evidence:   evidence,
		VPN:        &info,
	}
}

func firstMatch(s string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return kw
		}
	}
	return ""
}

// StaticReputation is a list-backed ReputationChecker for environments
// without an external provider.
type StaticReputation struct {
	Listed     map[string]bool
	Confidence int
}

func (s *StaticReputation) CheckIP(_ context.Context, ip string) (Reputation, error) {
	if s.Listed[ip] {
		return Reputation{Suspicious: true, Confidence: s.Confidence}, nil
	}
	return Reputation{}, nil
}

// StaticASNTable is a map-backed ASNLookup for tests and offline setups.
type StaticASNTable struct {
	ByIP map[string]ASNRecord
}

// ASNRecord is one autonomous-system entry.
type ASNRecord struct {
	ASN uint
	Org string
}

func (s *StaticASNTable) LookupASN(ip string) (uint, string, error) {
	if rec, ok := s.ByIP[ip]; ok {
		return rec.ASN, rec.Org, nil
	}
	return 0, "", nil
}

// DefaultHostingASNs is a starter blacklist of major cloud providers. Real
// deployments should load a fuller table.
func DefaultHostingASNs() map[uint]string {
	return map[uint]string{
		16509:  "Amazon.com (AWS)",
		14618:  "Amazon.com (AWS)",
		15169:  "Google Cloud",
		396982: "Google Cloud",
		8075:   "Microsoft Azure",
		14061:  "DigitalOcean",
		24940:  "Hetzner Online GmbH",
		16276:  "OVH SAS",
		20473:  "Choopa, LLC (Vultr)",
		63949:  "Linode",
		9009:   "M247 Europe",
		13335:  "Cloudflare",
	}
}
