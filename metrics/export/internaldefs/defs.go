package internaldefs

import (
	"github.com/indura/sessionkit"
)

// Series is one counter inside a [Family]. LabelValue is empty for unlabelled families.
type Series struct {
	ID         sessionkit.MetricID
	LabelValue string
}

// Family is a counter name shared by one or more series that differ in a single label.
type Family struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter both exporters publish for dispatcher drops.
const AuditDroppedName = "sessionkit_audit_dropped_total"

// AuditDroppedHelp describes [AuditDroppedName].
const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// StateName is the gauge family reporting which state the tab is in: the series for
// the current state is 1, the others 0.
const (
	StateName  = "sessionkit_session_state"
	StateHelp  = "Current session state of the tab."
	StateLabel = "state"
)

// States lists the series of [StateName].
var States = []sessionkit.State{
	sessionkit.StateAnonymous,
	sessionkit.StateAuthenticated,
	sessionkit.StatePasswordChangeRequired,
}

var Families = []Family{
	{
		Name:  "sessionkit_sign_ins_total",
		Help:  "Sign-in attempts by outcome.",
		Label: "outcome",
		Series: []Series{
			{ID: sessionkit.MetricSignInSuccess, LabelValue: "success"},
			{ID: sessionkit.MetricSignInFailure, LabelValue: "failure"},
			{ID: sessionkit.MetricSignInDiscarded, LabelValue: "discarded"},
		},
	},
	{
		Name:  "sessionkit_sign_in_failures_total",
		Help:  "Failed sign-ins by error kind.",
		Label: "kind",
		Series: []Series{
			{ID: sessionkit.MetricSignInCredentialRejected, LabelValue: sessionkit.KindCredential.String()},
			{ID: sessionkit.MetricSignInTransientFailure, LabelValue: sessionkit.KindTransient.String()},
			{ID: sessionkit.MetricSignInProtocolFailure, LabelValue: sessionkit.KindProtocol.String()},
		},
	},
	{
		Name:  "sessionkit_password_changes_total",
		Help:  "Password change attempts by outcome.",
		Label: "outcome",
		Series: []Series{
			{ID: sessionkit.MetricPasswordChangeSuccess, LabelValue: "success"},
			{ID: sessionkit.MetricPasswordChangeFailure, LabelValue: "failure"},
		},
	},
	{
		Name:  "sessionkit_password_change_failures_total",
		Help:  "Failed password changes by error kind.",
		Label: "kind",
		Series: []Series{
			{ID: sessionkit.MetricPasswordChangeWrongPassword, LabelValue: sessionkit.KindWrongPassword.String()},
		},
	},
	{
		Name:   "sessionkit_password_requirement_cleared_total",
		Help:   "Forced password change requirements cleared.",
		Series: []Series{{ID: sessionkit.MetricPasswordRequirementCleared}},
	},
	{
		Name:   "sessionkit_sign_outs_total",
		Help:   "Sign-outs, explicit or idle.",
		Series: []Series{{ID: sessionkit.MetricSignOut}},
	},
	{
		Name:  "sessionkit_idle_events_total",
		Help:  "Inactivity monitor events.",
		Label: "event",
		Series: []Series{
			{ID: sessionkit.MetricIdleWarning, LabelValue: "warning"},
			{ID: sessionkit.MetricIdleSignOut, LabelValue: "sign_out"},
		},
	},
	{
		Name:   "sessionkit_cross_tab_syncs_total",
		Help:   "State changes adopted from another tab.",
		Series: []Series{{ID: sessionkit.MetricCrossTabSync}},
	},
	{
		Name:  "sessionkit_storage_failures_total",
		Help:  "Session storage operations that failed.",
		Label: "op",
		Series: []Series{
			{ID: sessionkit.MetricPersistFailure, LabelValue: "persist"},
			{ID: sessionkit.MetricClearFailure, LabelValue: "clear"},
		},
	},
	{
		Name:   "sessionkit_auth_client_panics_total",
		Help:   "Panics recovered from the auth client.",
		Series: []Series{{ID: sessionkit.MetricAuthClientPanic}},
	},
}

var HistogramDefs = []HistogramDef{
	{ID: sessionkit.MetricSignInLatency, Name: "sessionkit_sign_in_latency_seconds", Help: "Auth API sign-in round-trip latency."},
}

// HistogramBounds are the le labels of the eight buckets, in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramUpperSeconds are the finite bucket bounds; the last bucket is open.
var HistogramUpperSeconds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// NormalizeBuckets copies raw into a fixed eight bucket array, zero filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// ApproxSum estimates the histogram sum from per-bucket counts, taking each bucket's
// midpoint and the last finite bound for the open bucket.
func ApproxSum(raw [8]uint64) float64 {
	var sum, lower float64
	for i, n := range raw {
		upper := HistogramUpperSeconds[len(HistogramUpperSeconds)-1]
		if i < len(HistogramUpperSeconds) {
			upper = HistogramUpperSeconds[i]
		}
		if i == len(raw)-1 {
			sum += float64(n) * upper
			break
		}
		sum += float64(n) * (lower + upper) / 2
		lower = upper
	}
	return sum
}

// Gauge returns 1 when s is the current state.
func Gauge(current, s sessionkit.State) int64 {
	if current == s {
		return 1
	}
	return 0
}
