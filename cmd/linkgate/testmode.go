package main

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/linkgate/linkgate/internal/sink"
)

// generateTestEvents creates sample flag events for testing sinks
func generateTestEvents() []sink.FlagEvent {
	now := time.Now().UTC()

	events := []sink.FlagEvent{
		{
			EventID:      uuid.New().String(),
			TS:           now.Format(time.RFC3339Nano),
			EvaluationID: uuid.New().String(),
			LinkUID:      "test-" + uuid.New().String()[:8],
			LinkID:       uuid.New().String(),
			ProjectID:    "test-project",
			Allowed:      false,
			Reason:       "TOR_DETECTED",
			ThreatLevel:  "critical",
			ThreatScore:  72,
			Flags:        []string{"tor_exit_node", "vpn_detected"},
			CountryCode:  "US",
		},
		{
			EventID:      uuid.New().String(),
			TS:           now.Format(time.RFC3339Nano),
			EvaluationID: uuid.New().String(),
			LinkUID:      "test-" + uuid.New().String()[:8],
			LinkID:       uuid.New().String(),
			ProjectID:    "test-project",
			Allowed:      false,
			Reason:       "GEO_RESTRICTED",
			ThreatLevel:  "medium",
			ThreatScore:  25,
			Flags:        []string{"geo_mismatch"},
			CountryCode:  "BR",
		},
		{
			EventID:      uuid.New().String(),
			TS:           now.Format(time.RFC3339Nano),
			EvaluationID: uuid.New().String(),
			LinkUID:      "test-" + uuid.New().String()[:8],
			LinkID:       uuid.New().String(),
			ProjectID:    "test-project",
			Allowed:      true,
			ThreatLevel:  "low",
			ThreatScore:  5,
			CountryCode:  "DE",
		},
	}

	return events
}

// runTestMode emits sample events through the configured sinks and exits.
// Useful for verifying Kafka connectivity without real traffic.
func runTestMode(emitFn func(sink.FlagEvent)) {
	log.Printf("TEST_MODE enabled: emitting sample flag events")

	events := generateTestEvents()
	for i, ev := range events {
		log.Printf("test event %d/%d: reason=%s threat=%s", i+1, len(events), ev.Reason, ev.ThreatLevel)
		emitFn(ev)
	}

	// give async sinks a moment to deliver before the caller closes them
	time.Sleep(2 * time.Second)
	log.Printf("TEST_MODE complete: %d events emitted", len(events))
}
