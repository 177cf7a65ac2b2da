package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/linkgate/linkgate/internal/signal"
)

// MaxMindSource resolves locations from a local GeoLite2/GeoIP2 City
// database. With an ASN database alongside it also serves LookupASN for the
// VPN detector.
type MaxMindSource struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenMaxMind opens the City database at cityPath and, when asnPath is
// non-empty, the ASN database too.
func OpenMaxMind(cityPath, asnPath string) (*MaxMindSource, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open city db: %w", err)
	}
	s := &MaxMindSource{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("open asn db: %w", err)
		}
		s.asn = asn
	}
	return s, nil
}

func (s *MaxMindSource) Name() string { return "maxmind" }

func (s *MaxMindSource) Locate(_ context.Context, ipStr string) (*SourceLocation, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip %q", ipStr)
	}
	rec, err := s.city.City(ip)
	if err != nil {
		return nil, err
	}
	loc := &SourceLocation{
		Country:     rec.Country.Names["en"],
		CountryCode: rec.Country.IsoCode,
		City:        rec.City.Names["en"],
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
		Timezone:    rec.Location.TimeZone,
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].Names["en"]
	}

	// AccuracyRadius is km; a tight radius means a city-level fix.
	switch r := rec.Location.AccuracyRadius; {
	case r == 0:
		loc.Accuracy = signal.AccuracyLow
		loc.Confidence = 40
	case r <= 50:
		loc.Accuracy = signal.AccuracyHigh
		loc.Confidence = 85
	case r <= 200:
		loc.Accuracy = signal.AccuracyMedium
		loc.Confidence = 65
	default:
		loc.Accuracy = signal.AccuracyLow
		loc.Confidence = 45
	}
	return loc, nil
}

// LookupASN implements ASNLookup when an ASN database is loaded.
func (s *MaxMindSource) LookupASN(ipStr string) (uint, string, error) {
	if s.asn == nil {
		return 0, "", fmt.Errorf("asn database not loaded")
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return 0, "", fmt.Errorf("invalid ip %q", ipStr)
	}
	rec, err := s.asn.ASN(ip)
	if err != nil {
		return 0, "", err
	}
	return rec.AutonomousSystemNumber, rec.AutonomousSystemOrganization, nil
}

// Close releases the underlying databases.
func (s *MaxMindSource) Close() error {
	err := s.city.Close()
	if s.asn != nil {
		if e := s.asn.Close(); err == nil {
			err = e
		}
	}
	return err
}

// HTTPSource queries a JSON geolocation API (ip-api.com response shape).
// The endpoint is a template with %s substituted by the IP.
type HTTPSource struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPSource creates an HTTP geo source. A nil client gets a 10s default;
// the per-call deadline still comes from the caller's context.
func NewHTTPSource(name, endpoint string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{name: name, endpoint: endpoint, client: client}
}

func (s *HTTPSource) Name() string { return s.name }

type httpGeoResponse struct {
	Status      string  `json:"status"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
}

func (s *HTTPSource) Locate(ctx context.Context, ip string) (*SourceLocation, error) {
	u := strings.Replace(s.endpoint, "%s", url.PathEscape(ip), 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", s.name, resp.StatusCode)
	}

	var body httpGeoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("%s lookup failed for %s", s.name, ip)
	}

	loc := &SourceLocation{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.RegionName,
		City:        body.City,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
		Timezone:    body.Timezone,
		ISP:         body.ISP,
		Accuracy:    signal.AccuracyMedium,
		Confidence:  70,
	}
	if loc.City != "" {
		loc.Accuracy = signal.AccuracyHigh
		loc.Confidence = 80
	}
	return loc, nil
}
