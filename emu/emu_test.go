package emu

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"cubecore/emu/log"
)

func newTestEmulator(tb testing.TB, cfg Config) *Emulator {
	tb.Helper()
	e := New(cfg)
	tb.Cleanup(e.Close)
	return e
}

// startAudio makes the audio interface stream samples, with an interrupt
// after 1000 of them.
func startAudio(e *Emulator) {
	const ai = 0xCC006C00
	e.Sys.Write32(ai|0x04, 0xFFFF) // volume
	e.Sys.Write32(ai|0x0C, 1000)   // interrupt timing
	e.Sys.Write32(ai|0x00, 0x3)    // playing, 48kHz
}

func TestConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, cfgFilename)

	const partial = `
[system]
wii = true

[timing]
oc_factor = 9.0
`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	want.System.Wii = true
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("LoadConfig mismatch (-want +got):\n%s", diff)
	}
	if hcfg := cfg.HW(); !hcfg.Wii || hcfg.AudioSampleRate != defaultSampleRate {
		t.Errorf("HW() = %+v", hcfg)
	}

	cfg.Timing.Overclock = true
	cfg.Timing.OCFactor = 1.5
	cfg.Video.DisableGPU = true
	if err := WriteConfig(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("config round trip mismatch (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(path, []byte("[timing\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("LoadConfig succeeded with invalid toml")
	}
}

func TestRun(t *testing.T) {
	log.Disable()

	e := newTestEmulator(t, DefaultConfig())
	var audio bytes.Buffer
	e.AudioOut = NewPCMSink(&audio)
	startAudio(e)

	tps := int64(e.Sys.Timers.TicksPerSecond())
	cycles := tps / 10
	if err := e.Run(context.Background(), cycles); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := e.Sys.Timing.GetTicks(); got != uint64(cycles) {
		t.Errorf("ticks = %d, want %d", got, cycles)
	}
	if got := e.Ticks(); got != uint64(cycles) {
		t.Errorf("Ticks() = %d, want %d", got, cycles)
	}
	// 59.94 fields per second
	if fields := e.Sys.VI.Fields(); fields != 5 {
		t.Errorf("fields = %d, want 5", fields)
	}
	if e.DrawnFields() > e.Sys.VI.Fields() {
		t.Errorf("drew %d fields out of %d", e.DrawnFields(), e.Sys.VI.Fields())
	}

	n := e.AudioSamples()
	if n < 900 || n > 1000 {
		t.Errorf("played %d samples, want ~1000", n)
	}
	if uint64(audio.Len()) != 4*n {
		t.Errorf("audio output is %d bytes, want %d", audio.Len(), 4*n)
	}
}

func TestRunStop(t *testing.T) {
	log.Disable()

	e := newTestEmulator(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx, -1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ticks := e.Sys.Timing.GetTicks()
	if ticks == 0 {
		t.Fatalf("emulation didn't progress")
	}

	e.Stop()
	if err := e.Run(context.Background(), -1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.Sys.Timing.GetTicks(); got != ticks {
		t.Errorf("ticks = %d after Stop, want %d", got, ticks)
	}
}

func TestStateFile(t *testing.T) {
	log.Disable()

	cfg := DefaultConfig()
	cfg.Audio.DisableAudio = true

	src := newTestEmulator(t, cfg)
	startAudio(src)
	if err := src.Run(context.Background(), 3000000); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "state.ccs")
	if err := src.SaveStateFile(path); err != nil {
		t.Fatalf("SaveStateFile: %v", err)
	}

	dst := newTestEmulator(t, cfg)
	if err := dst.LoadStateFile(path); err != nil {
		t.Fatalf("LoadStateFile: %v", err)
	}

	opt := cmp.AllowUnexported(StateInfo{})
	if diff := cmp.Diff(src.Info(), dst.Info(), opt); diff != "" {
		t.Fatalf("state info mismatch (-src +dst):\n%s", diff)
	}

	info, err := ReadStateInfo(path, cfg)
	if err != nil {
		t.Fatalf("ReadStateInfo: %v", err)
	}
	if diff := cmp.Diff(src.Info(), info, opt); diff != "" {
		t.Fatalf("ReadStateInfo mismatch (-want +got):\n%s", diff)
	}

	// Not a gzip file.
	bad := filepath.Join(t.TempDir(), "bad.ccs")
	if err := os.WriteFile(bad, []byte("CCST garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	before := dst.Info()
	if err := dst.LoadStateFile(bad); err == nil {
		t.Fatalf("LoadStateFile succeeded with a corrupted file")
	}
	if diff := cmp.Diff(before, dst.Info(), opt); diff != "" {
		t.Fatalf("failed load changed the state (-want +got):\n%s", diff)
	}
}

func TestStateInfoJSON(t *testing.T) {
	log.Disable()

	cfg := DefaultConfig()
	cfg.Audio.DisableAudio = true
	e := newTestEmulator(t, cfg)
	startAudio(e)
	if err := e.Run(context.Background(), 1000); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := e.Info().WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var (
		ticks uint64
		names []string
	)
	err := jx.DecodeBytes(buf.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "ticks":
			v, err := d.UInt64()
			ticks = v
			return err
		case "events":
			return d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "name" {
						return d.Skip()
					}
					s, err := d.Str()
					names = append(names, s)
					return err
				})
			})
		}
		return d.Skip()
	})
	if err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}

	if ticks != 1000 {
		t.Errorf("ticks = %d, want 1000", ticks)
	}
	var want []string
	for _, ev := range e.Info().Events {
		want = append(want, ev.Name)
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if len(names) != 2 {
		t.Errorf("got %d events, want 2 (VICallback, AICallback)", len(names))
	}
}

func TestStateInfoYAML(t *testing.T) {
	log.Disable()

	cfg := DefaultConfig()
	cfg.Audio.DisableAudio = true
	e := newTestEmulator(t, cfg)
	if err := e.Run(context.Background(), 2500); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	info := e.Info()
	if err := info.WriteYAML(&buf); err != nil {
		t.Fatal(err)
	}

	var got yamlInfo
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	want := yamlInfo{
		Ticks:    2500,
		OCFactor: 1,
		Events: []yamlEvent{
			{Name: "VICallback", Time: info.Events[0].Time, Seq: info.Events[0].Seq},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("YAML mismatch (-want +got):\n%s", diff)
	}

	var text bytes.Buffer
	if err := info.WriteText(&text); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(text.Bytes(), []byte("VICallback : ")) {
		t.Errorf("text output lacks the pending event:\n%s", text.String())
	}
}
