package desktop

// MonitorDescriptor describes one display as seen by a single enumeration.
// ID is the ordinal position in that enumeration and is not stable across
// calls: displays can be attached or removed in between.
type MonitorDescriptor struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	IsPrimary bool   `json:"isPrimary"`
}

// MonitorEnumerator lists the displays currently attached.
type MonitorEnumerator interface {
	Enumerate() ([]MonitorDescriptor, error)
}

// MonitorEnumeratorFunc adapts a function to MonitorEnumerator.
type MonitorEnumeratorFunc func() ([]MonitorDescriptor, error)

func (f MonitorEnumeratorFunc) Enumerate() ([]MonitorDescriptor, error) {
	return f()
}

func findMonitor(monitors []MonitorDescriptor, id int) (MonitorDescriptor, bool) {
	for _, m := range monitors {
		if m.ID == id {
			return m, true
		}
	}
	return MonitorDescriptor{}, false
}
