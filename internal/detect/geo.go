package detect

import (
	"context"
	"log"
	"sync"

	"github.com/linkgate/linkgate/internal/signal"
	"github.com/linkgate/linkgate/internal/signal/cache"
)

// SourceLocation is one geolocation source's answer for an IP.
type SourceLocation struct {
	Country     string
	CountryCode string
	Region      string
	City        string
	Latitude    float64
	Longitude   float64
	Timezone    string
	ISP         string
	Confidence  int // source-local, 0-100
	Accuracy    signal.AccuracyTier
}

// GeoSource is a pluggable geolocation backend.
type GeoSource interface {
	Name() string
	Locate(ctx context.Context, ip string) (*SourceLocation, error)
}

// WeightedSource pairs a source with the trust placed in it when sources
// disagree.
type WeightedSource struct {
	Source GeoSource
	Trust  float64 // 0-1
}

// GeoDetector queries all configured sources concurrently and merges their
// answers into a single location with a combined confidence. Sources that
// error or exceed the per-call timeout contribute nothing.
type GeoDetector struct {
	th      signal.Thresholds
	cache   cache.Store
	sources []WeightedSource
}

func NewGeoDetector(th signal.Thresholds, store cache.Store, sources []WeightedSource) *GeoDetector {
	return &GeoDetector{th: th, cache: store, sources: sources}
}

func (d *GeoDetector) Kind() signal.Kind { return signal.KindGeo }

func (d *GeoDetector) Evaluate(ctx context.Context, rc *signal.RequestContext) (signal.Result, error) {
	if rc.IP == "" || len(d.sources) == 0 {
		return signal.Neutral(signal.KindGeo), nil
	}
	if d.cache != nil {
		if res, ok := d.cache.Get(ctx, signal.KindGeo, rc.IP); ok {
			return res, nil
		}
	}

	answers := d.query(ctx, rc.IP)
	res := d.combine(answers)

	if d.cache != nil && len(answers) > 0 {
		d.cache.Put(ctx, signal.KindGeo, rc.IP, res)
	}
	return res, nil
}

type sourceAnswer struct {
	loc    *SourceLocation
	trust  float64
	source string
}

func (d *GeoDetector) query(ctx context.Context, ip string) []sourceAnswer {
	var mu sync.Mutex
	var answers []sourceAnswer
	var wg sync.WaitGroup

	for _, ws := range d.sources {
		wg.Add(1)
		go func(ws WeightedSource) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, d.th.GeoSourceTimeout)
			defer cancel()

			loc, err := ws.Source.Locate(callCtx, ip)
			if err != nil || loc == nil {
				if err != nil {
					log.Printf("geo: source %s failed for %s: %v", ws.Source.Name(), ip, err)
				}
				return
			}
			mu.Lock()
			answers = append(answers, sourceAnswer{loc: loc, trust: ws.Trust, source: ws.Source.Name()})
			mu.Unlock()
		}(ws)
	}
	wg.Wait()
	return answers
}

func (d *GeoDetector) combine(answers []sourceAnswer) signal.Result {
	if len(answers) == 0 {
		return signal.Neutral(signal.KindGeo)
	}

	// Primary source: highest trust-weighted confidence among those that
	// resolved a country. Remaining fields are backfilled from any source
	// that supplied them.
	var primary *sourceAnswer
	for i := range answers {
		a := &answers[i]
		if a.loc.CountryCode == "" {
			continue
		}
		if primary == nil || a.trust*float64(a.loc.Confidence) > primary.trust*float64(primary.loc.Confidence) {
			primary = a
		}
	}
	if primary == nil {
		primary = &answers[0]
	}

	info := signal.GeoInfo{
		Country:     primary.loc.Country,
		CountryCode: primary.loc.CountryCode,
		Region:      primary.loc.Region,
		City:        primary.loc.City,
		Latitude:    primary.loc.Latitude,
		Longitude:   primary.loc.Longitude,
		Timezone:    primary.loc.Timezone,
		ISP:         primary.loc.ISP,
	}
	for _, a := range answers {
		info.Sources = append(info.Sources, a.source)
		if info.Latitude == 0 && info.Longitude == 0 && (a.loc.Latitude != 0 || a.loc.Longitude != 0) {
			info.Latitude, info.Longitude = a.loc.Latitude, a.loc.Longitude
		}
		if info.Timezone == "" {
			info.Timezone = a.loc.Timezone
		}
		if info.ISP == "" {
			info.ISP = a.loc.ISP
		}
		if info.Region == "" {
			info.Region = a.loc.Region
		}
		if info.City == "" {
			info.City = a.loc.City
		}
	}

	info.Confidence = d.combinedConfidence(answers, primary.loc.CountryCode)
	info.Accuracy = combinedAccuracy(answers)

	return signal.Result{
		Kind:       signal.KindGeo,
		Verdict:    info.CountryCode != "",
		Confidence: info.Confidence,
		Tier:       signal.TierLow,
		Geo:        &info,
	}
}

// combinedConfidence is the trust-weighted average of source confidences,
// boosted when at least two sources agree on the primary country code and
// floored when they do not.
func (d *GeoDetector) combinedConfidence(answers []sourceAnswer, primaryCC string) int {
	var weighted, totalTrust float64
	agreeing := 0
	for _, a := range answers {
		weighted += a.trust * float64(a.loc.Confidence)
		totalTrust += a.trust
		if primaryCC != "" && a.loc.CountryCode == primaryCC {
			agreeing++
		}
	}
	if totalTrust == 0 {
		return 0
	}
	avg := int(weighted / totalTrust)

	if agreeing >= 2 {
		avg += d.th.GeoAgreementBoost
		if avg > d.th.GeoConfidenceCap {
			avg = d.th.GeoConfidenceCap
		}
	} else if avg < d.th.GeoConfidenceFloor {
		avg = d.th.GeoConfidenceFloor
	}
	return avg
}

func accuracyValue(a signal.AccuracyTier) int {
	switch a {
	case signal.AccuracyHigh:
		return 3
	case signal.AccuracyMedium:
		return 2
	default:
		return 1
	}
}

func combinedAccuracy(answers []sourceAnswer) signal.AccuracyTier {
	if len(answers) == 0 {
		return signal.AccuracyLow
	}
	sum := 0
	for _, a := range answers {
		sum += accuracyValue(a.loc.Accuracy)
	}
	avg := float64(sum) / float64(len(answers))
	switch {
	case avg >= 2.5:
		return signal.AccuracyHigh
	case avg >= 1.5:
		return signal.AccuracyMedium
	default:
		return signal.AccuracyLow
	}
}
