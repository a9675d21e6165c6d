package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/indura/sessionkit"
	"github.com/indura/sessionkit/metrics/export/internaldefs"
)

// MetricsSource is satisfied by *sessionkit.Controller.
type MetricsSource interface {
	MetricsSnapshot() sessionkit.MetricsSnapshot
	AuditDropped() uint64
	State() sessionkit.AuthState
}

// Exporter renders one controller's metrics.
type Exporter struct {
	source MetricsSource
}

// NewExporter creates an exporter reading from c.
func NewExporter(c *sessionkit.Controller) *Exporter {
	return &Exporter{source: c}
}

// NewExporterFromSource creates an exporter over any [MetricsSource].
func NewExporterFromSource(source MetricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text, or "" while metrics are disabled.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := textWriter{b: &strings.Builder{}}
	w.b.Grow(4096)

	for _, f := range internaldefs.Families {
		w.header(f.Name, f.Help, "counter")
		for _, s := range f.Series {
			w.sample(f.Name, f.Label, s.LabelValue, strconv.FormatUint(snapshot.Counters[s.ID], 10))
		}
	}

	current := p.source.State().State
	w.header(internaldefs.StateName, internaldefs.StateHelp, "gauge")
	for _, s := range internaldefs.States {
		w.sample(internaldefs.StateName, internaldefs.StateLabel, s.String(),
			strconv.FormatInt(internaldefs.Gauge(current, s), 10))
	}

	for _, def := range internaldefs.HistogramDefs {
		raw := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(raw)
		w.header(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			w.sample(def.Name+"_bucket", "le", le, strconv.FormatUint(cumulative[i], 10))
		}
		w.sample(def.Name+"_sum", "", "", strconv.FormatFloat(internaldefs.ApproxSum(raw), 'g', -1, 64))
		w.sample(def.Name+"_count", "", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	}

	w.header(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	w.sample(internaldefs.AuditDroppedName, "", "", strconv.FormatUint(dropped, 10))

	return w.b.String()
}

type textWriter struct {
	b *strings.Builder
}

func (w textWriter) header(name, help, kind string) {
	w.b.WriteString("# HELP ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(escapeHelp(help))
	w.b.WriteString("\n# TYPE ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(kind)
	w.b.WriteByte('\n')
}

// sample writes one line; label is omitted when empty.
func (w textWriter) sample(name, label, value, v string) {
	w.b.WriteString(name)
	if label != "" {
		w.b.WriteByte('{')
		w.b.WriteString(label)
		w.b.WriteString(`="`)
		w.b.WriteString(escapeLabel(value))
		w.b.WriteString(`"}`)
	}
	w.b.WriteByte(' ')
	w.b.WriteString(v)
	w.b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	return strings.ReplaceAll(help, "\n", "\\n")
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, `"`, `\"`)
}
