package emu

import (
	"fmt"
	"io"

	"github.com/go-faster/jx"
	"gopkg.in/yaml.v3"

	"cubecore/hw"
	"cubecore/hw/timing"
)

// StateInfo describes the scheduler state of a system.
type StateInfo struct {
	Ticks     uint64
	IdleTicks uint64
	OCFactor  float64
	Fields    uint64
	Events    []timing.PendingEvent

	summary string
}

func stateInfo(sys *hw.System) StateInfo {
	ct := sys.Timing
	return StateInfo{
		Ticks:     ct.GetTicks(),
		IdleTicks: ct.GetIdleTicks(),
		OCFactor:  ct.OCFactor(),
		Fields:    sys.VI.Fields(),
		Events:    ct.PendingEvents(),
		summary:   ct.ScheduledEventsSummary(),
	}
}

// Info returns the scheduler state. Must not be called while the emulator
// runs.
func (e *Emulator) Info() StateInfo { return stateInfo(e.Sys) }

// ReadStateInfo loads the save-state at path into a new system and
// describes it.
func ReadStateInfo(path string, cfg Config) (StateInfo, error) {
	cfg.Check()
	sys := hw.NewSystem(cfg.HW())
	defer sys.Shutdown()

	if err := loadStateFile(sys, path); err != nil {
		return StateInfo{}, err
	}
	return stateInfo(sys), nil
}

// WriteText writes a human readable description of si to w.
func (si StateInfo) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "ticks: %d (idle: %d)\noverclock: %v\nfields: %d\n\n%s",
		si.Ticks, si.IdleTicks, si.OCFactor, si.Fields, si.summary)
	return err
}

// WriteJSON writes si as a JSON object to w.
func (si StateInfo) WriteJSON(w io.Writer) error {
	var e jx.Encoder
	e.SetIdent(2)
	e.Obj(func(e *jx.Encoder) {
		e.Field("ticks", func(e *jx.Encoder) { e.UInt64(si.Ticks) })
		e.Field("idle_ticks", func(e *jx.Encoder) { e.UInt64(si.IdleTicks) })
		e.Field("oc_factor", func(e *jx.Encoder) { e.Float64(si.OCFactor) })
		e.Field("fields", func(e *jx.Encoder) { e.UInt64(si.Fields) })
		e.Field("events", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ev := range si.Events {
					encodeEvent(e, ev)
				}
			})
		})
	})
	_, err := w.Write(append(e.Bytes(), '\n'))
	return err
}

func encodeEvent(e *jx.Encoder, ev timing.PendingEvent) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(ev.Name) })
		e.Field("time", func(e *jx.Encoder) { e.Int64(ev.Time) })
		e.Field("seq", func(e *jx.Encoder) { e.UInt64(ev.Seq) })
		e.Field("userdata", func(e *jx.Encoder) { e.UInt64(ev.Userdata) })
	})
}

type yamlEvent struct {
	Name     string `yaml:"name"`
	Time     int64  `yaml:"time"`
	Seq      uint64 `yaml:"seq"`
	Userdata uint64 `yaml:"userdata"`
}

type yamlInfo struct {
	Ticks     uint64      `yaml:"ticks"`
	IdleTicks uint64      `yaml:"idle_ticks"`
	OCFactor  float64     `yaml:"oc_factor"`
	Fields    uint64      `yaml:"fields"`
	Events    []yamlEvent `yaml:"events"`
}

// WriteYAML writes si as a YAML document to w.
func (si StateInfo) WriteYAML(w io.Writer) error {
	doc := yamlInfo{
		Ticks:     si.Ticks,
		IdleTicks: si.IdleTicks,
		OCFactor:  si.OCFactor,
		Fields:    si.Fields,
	}
	for _, ev := range si.Events {
		doc.Events = append(doc.Events, yamlEvent{Name: ev.Name, Time: ev.Time, Seq: ev.Seq, Userdata: ev.Userdata})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
