// Package collector implements the Prometheus collector interface over a
// plant snapshot and serves it on an HTTP listener.
package collector

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/plant"
)

// PlantCollector implements prometheus.Collector for a running plant.
// Collect takes a fresh snapshot on every scrape; snapshots copy plain
// values only, so scrapes never block the tick.
type PlantCollector struct {
	plant *plant.Plant

	outdoor    *prometheus.Desc
	summer     *prometheus.Desc
	frost      *prometheus.Desc
	pumpOn     *prometheus.Desc
	valvePos   *prometheus.Desc
	charging   *prometheus.Desc
	electric   *prometheus.Desc
	circActive *prometheus.Desc
	waterTgt   *prometheus.Desc
	srcTemp    *prometheus.Desc
	srcTarget  *prometheus.Desc
	burner     *prometheus.Desc
	antifreeze *prometheus.Desc
}

func New(p *plant.Plant) *PlantCollector {
	return &PlantCollector{
		plant: p,
		outdoor: prometheus.NewDesc("hydronic_bmodel_outdoor_celsius",
			"Filtered outdoor temperature", []string{"bmodel"}, nil),
		summer: prometheus.NewDesc("hydronic_bmodel_summer",
			"Summer condition flag", []string{"bmodel"}, nil),
		frost: prometheus.NewDesc("hydronic_bmodel_frost",
			"Frost condition flag", []string{"bmodel"}, nil),
		pumpOn: prometheus.NewDesc("hydronic_pump_on",
			"Committed pump relay state", []string{"pump"}, nil),
		valvePos: prometheus.NewDesc("hydronic_valve_position_permille",
			"Estimated valve position", []string{"valve"}, nil),
		charging: prometheus.NewDesc("hydronic_dhwt_charging",
			"DHW charge cycle in progress", []string{"dhwt"}, nil),
		electric: prometheus.NewDesc("hydronic_dhwt_electric",
			"DHW electric failover engaged", []string{"dhwt"}, nil),
		circActive: prometheus.NewDesc("hydronic_hcircuit_active",
			"Heating circuit calling for heat", []string{"hcircuit"}, nil),
		waterTgt: prometheus.NewDesc("hydronic_hcircuit_water_target_celsius",
			"Commanded water temperature", []string{"hcircuit"}, nil),
		srcTemp: prometheus.NewDesc("hydronic_heatsource_temperature_celsius",
			"Heat source temperature", []string{"heatsource"}, nil),
		srcTarget: prometheus.NewDesc("hydronic_heatsource_target_celsius",
			"Heat source target temperature", []string{"heatsource"}, nil),
		burner: prometheus.NewDesc("hydronic_heatsource_burner_on",
			"Burner stage state", []string{"heatsource", "stage"}, nil),
		antifreeze: prometheus.NewDesc("hydronic_heatsource_antifreeze",
			"Anti-freeze protection engaged", []string{"heatsource"}, nil),
	}
}

func (c *PlantCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.outdoor
	ch <- c.summer
	ch <- c.frost
	ch <- c.pumpOn
	ch <- c.valvePos
	ch <- c.charging
	ch <- c.electric
	ch <- c.circActive
	ch <- c.waterTgt
	ch <- c.srcTemp
	ch <- c.srcTarget
	ch <- c.burner
	ch <- c.antifreeze
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *PlantCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.plant.TakeSnapshot()
	for _, m := range snap.Bmodels {
		if m.HasOutdoor {
			ch <- prometheus.MustNewConstMetric(c.outdoor, prometheus.GaugeValue, m.OutdoorC, m.Name)
		}
		ch <- prometheus.MustNewConstMetric(c.summer, prometheus.GaugeValue, b2f(m.Summer), m.Name)
		ch <- prometheus.MustNewConstMetric(c.frost, prometheus.GaugeValue, b2f(m.Frost), m.Name)
	}
	for _, p := range snap.Pumps {
		ch <- prometheus.MustNewConstMetric(c.pumpOn, prometheus.GaugeValue, b2f(p.On), p.Name)
	}
	for _, v := range snap.Valves {
		ch <- prometheus.MustNewConstMetric(c.valvePos, prometheus.GaugeValue, float64(v.Position), v.Name)
	}
	for _, t := range snap.Tanks {
		ch <- prometheus.MustNewConstMetric(c.charging, prometheus.GaugeValue, b2f(t.Charging), t.Name)
		ch <- prometheus.MustNewConstMetric(c.electric, prometheus.GaugeValue, b2f(t.Electric), t.Name)
	}
	for _, hc := range snap.Circuits {
		ch <- prometheus.MustNewConstMetric(c.circActive, prometheus.GaugeValue, b2f(hc.Active), hc.Name)
		if hc.Active {
			ch <- prometheus.MustNewConstMetric(c.waterTgt, prometheus.GaugeValue, hc.WaterTargetC, hc.Name)
		}
	}
	for _, s := range snap.Sources {
		if s.HasTemp {
			ch <- prometheus.MustNewConstMetric(c.srcTemp, prometheus.GaugeValue, s.TempC, s.Name)
		}
		ch <- prometheus.MustNewConstMetric(c.srcTarget, prometheus.GaugeValue, s.TargetC, s.Name)
		ch <- prometheus.MustNewConstMetric(c.burner, prometheus.GaugeValue, b2f(s.Burner1), s.Name, "1")
		ch <- prometheus.MustNewConstMetric(c.burner, prometheus.GaugeValue, b2f(s.Burner2), s.Name, "2")
		ch <- prometheus.MustNewConstMetric(c.antifreeze, prometheus.GaugeValue, b2f(s.Antifreeze), s.Name)
	}
}

// Serve registers the collector and serves /metrics until the listener
// fails. Run it from its own goroutine.
func Serve(addr string, p *plant.Plant) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(New(p))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Info().Str("addr", addr).Msg("metrics listener starting")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics listener failed")
	}
}
