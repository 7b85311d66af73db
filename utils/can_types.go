package utils

import "sort"

// Frame directions as seen from the controller
const (
	DirectionRX = "rx"
	DirectionTX = "tx"
)

type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int // 0 for event-driven frames
	Signals   []SignalDef
}

// Signal looks a signal up by name
func (fd *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RequireFrames fails unless every named frame exists with the given direction
func (m *CANMap) RequireFrames(direction string, names ...string) error {
	for _, name := range names {
		fd, err := m.FrameByName(name)
		if err != nil {
			return err
		}
		if fd.Direction != direction {
			return &FrameDirectionError{Frame: name, Want: direction, Got: fd.Direction}
		}
	}
	return nil
}

// FrameDirectionError reports a frame declared with the wrong direction
type FrameDirectionError struct {
	Frame     string
	Want, Got string
}

func (e *FrameDirectionError) Error() string {
	return "frame " + e.Frame + ": direction " + e.Got + ", want " + e.Want
}
