// Package telemetry ships plant observables to a DogStatsD agent.
package telemetry

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/plant"
)

type Config struct {
	AgentAddr string
	Namespace string
	Tags      []string
}

// Sink wraps the statsd client. A nil Sink is valid and drops everything,
// so callers never guard their gauge calls.
type Sink struct {
	client *statsd.Client
}

func New(cfg Config) (*Sink, error) {
	if cfg.AgentAddr == "" {
		return nil, nil
	}
	client, err := statsd.New(cfg.AgentAddr)
	if err != nil {
		return nil, fmt.Errorf("dogstatsd client: %w", err)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "hydronic."
	}
	client.Namespace = cfg.Namespace
	client.Tags = cfg.Tags

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("telemetry initialized")
	return &Sink{client: client}, nil
}

func (s *Sink) Gauge(name string, value float64, tags ...string) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit gauge metric")
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Publish emits one plant snapshot.
func (s *Sink) Publish(snap plant.Snapshot) {
	if s == nil {
		return
	}
	for _, p := range snap.Pumps {
		s.Gauge("pump.on", boolGauge(p.On), "pump:"+p.Name)
	}
	for _, v := range snap.Valves {
		s.Gauge("valve.position", float64(v.Position), "valve:"+v.Name)
	}
	for _, m := range snap.Bmodels {
		if m.HasOutdoor {
			s.Gauge("bmodel.outdoor", m.OutdoorC, "bmodel:"+m.Name)
		}
		s.Gauge("bmodel.summer", boolGauge(m.Summer), "bmodel:"+m.Name)
		s.Gauge("bmodel.frost", boolGauge(m.Frost), "bmodel:"+m.Name)
	}
	for _, t := range snap.Tanks {
		s.Gauge("dhwt.charging", boolGauge(t.Charging), "dhwt:"+t.Name)
		s.Gauge("dhwt.electric", boolGauge(t.Electric), "dhwt:"+t.Name)
	}
	for _, c := range snap.Circuits {
		s.Gauge("hcircuit.active", boolGauge(c.Active), "hcircuit:"+c.Name)
		if c.Active {
			s.Gauge("hcircuit.water_target", c.WaterTargetC, "hcircuit:"+c.Name)
		}
	}
	for _, b := range snap.Sources {
		if b.HasTemp {
			s.Gauge("heatsource.temperature", b.TempC, "heatsource:"+b.Name)
		}
		s.Gauge("heatsource.target", b.TargetC, "heatsource:"+b.Name)
		s.Gauge("heatsource.burner1", boolGauge(b.Burner1), "heatsource:"+b.Name)
		s.Gauge("heatsource.burner2", boolGauge(b.Burner2), "heatsource:"+b.Name)
		s.Gauge("heatsource.antifreeze", boolGauge(b.Antifreeze), "heatsource:"+b.Name)
	}
}
