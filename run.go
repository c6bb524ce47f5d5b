package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"cubecore/emu"
	"cubecore/emu/rpc"
)

// runMain runs the emulator until the requested number of cycles have been
// executed or the process is interrupted.
func runMain(args Run, cfg emu.Config) {
	if args.Wii {
		cfg.System.Wii = true
	}
	if args.OC != 0 {
		cfg.Timing.Overclock = true
		cfg.Timing.OCFactor = args.OC
	}
	if args.Events != nil {
		defer args.Events.Close()
	}

	e := emu.New(cfg)
	defer e.Close()

	if args.AudioOut != "" {
		sink, closer, err := openAudioSink(args.AudioOut, e.Sys.Config().AudioSampleRate)
		checkf(err, "failed to open audio output")
		defer func() {
			checkf(closer.Close(), "failed to close audio output")
		}()
		e.AudioOut = sink
	}
	if args.Load != "" {
		checkf(e.LoadStateFile(args.Load), "failed to load state")
	}

	if args.RPC != "" {
		server, err := rpc.NewServer(args.RPC, e)
		checkf(err, "failed to start rpc server")
		defer server.Close()
		fmt.Println("rpc server listening on", server.Addr())
	}

	if args.CPUProfile != "" {
		f, err := os.Create(args.CPUProfile)
		checkf(err, "failed to create cpu profile file")
		checkf(pprof.StartCPUProfile(f), "failed to start cpu profile")
		defer func() {
			pprof.StopCPUProfile()
			f.Close()
			fmt.Println("CPU profile written to", args.CPUProfile)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if args.Progress && args.Cycles > 0 {
		done := make(chan struct{})
		defer close(done)
		go showProgress(e, e.Ticks()+uint64(args.Cycles), done)
	}
	checkf(e.Run(ctx, args.Cycles), "emulation failed")

	if args.Save != "" {
		checkf(e.SaveStateFile(args.Save), "failed to save state")
	}
	if args.Events != nil {
		checkf(e.Info().WriteJSON(args.Events), "failed to write events")
	}
}

func openAudioSink(path string, sampleRate int) (emu.AudioSink, io.Closer, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		sink, err := emu.CreateWAV(path, sampleRate)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink, nil
	}

	out := &outfile{}
	if path == "stdout" {
		out.name, out.w, out.close = path, os.Stdout, func() error { return nil }
	} else {
		fd, err := os.Create(path)
		if err != nil {
			return nil, nil, err
		}
		out.name, out.w, out.close = path, fd, fd.Close
	}
	return emu.NewPCMSink(out), out, nil
}

// showProgress shows the progress of the emulator towards end, in CPU ticks.
func showProgress(e *emu.Emulator, end uint64, done <-chan struct{}) {
	start := e.Ticks()
	bar := progressbar.Default(int64(end-start), "emulating")
	defer bar.Close()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-done:
			bar.Set64(int64(end - start))
			return
		case <-tick.C:
			bar.Set64(int64(e.Ticks() - start))
		}
	}
}

func stateInfoMain(args StateInfo, cfg emu.Config) {
	if args.Wii {
		cfg.System.Wii = true
	}
	info, err := emu.ReadStateInfo(args.StatePath, cfg)
	checkf(err, "failed to read state")

	switch args.Format {
	case "json":
		checkf(info.WriteJSON(os.Stdout), "failed to write JSON")
	case "yaml":
		checkf(info.WriteYAML(os.Stdout), "failed to write YAML")
	default:
		checkf(info.WriteText(os.Stdout), "failed to write infos")
	}
}
