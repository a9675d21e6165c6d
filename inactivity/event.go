package inactivity

// EventKind is an interaction that counts as activity.
type EventKind uint8

const (
	PointerMove EventKind = iota
	MouseDown
	KeyDown
	Scroll
	TouchStart
	Click
	Focus
	// Request is an HTTP request driven through middleware.
	Request
)

var eventNames = [...]string{
	PointerMove: "pointermove",
	MouseDown:   "mousedown",
	KeyDown:     "keydown",
	Scroll:      "scroll",
	TouchStart:  "touchstart",
	Click:       "click",
	Focus:       "focus",
	Request:     "request",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// ParseEventKind maps an event name to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for i, n := range eventNames {
		if n == name {
			return EventKind(i), true
		}
	}
	return 0, false
}
