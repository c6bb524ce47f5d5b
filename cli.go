package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"cubecore/emu/log"
)

type mode byte

const (
	runMode       mode = iota // Run the emulator
	stateInfoMode             // Show save-state infos
	versionMode               // Show cubecore version
)

type (
	CLI struct {
		Run       Run       `cmd:"" help:"Run the emulated hardware." default:"withargs"`
		StateInfo StateInfo `cmd:"" help:"Show save-state infos." name:"state-info"`
		Version   Version   `cmd:"" help:"Show cubecore version."`

		Log logModMask `help:"${log_help}" placeholder:"mod0,mod1,..."`

		mode mode
	}

	Run struct {
		Cycles     int64    `name:"cycles" help:"${cycles_help}" default:"-1"`
		Wii        bool     `name:"wii" help:"Emulate a Wii instead of a GameCube."`
		OC         float64  `name:"oc" help:"CPU overclock factor." placeholder:"FACTOR"`
		Load       string   `name:"load" help:"Load save-state before running." type:"existingfile"`
		Save       string   `name:"save" help:"Write save-state on exit." type:"path"`
		Events     *outfile `name:"events" help:"Dump pending events as JSON on exit." placeholder:"FILE|stdout|stderr"`
		AudioOut   string   `name:"audio-out" help:"${audio_help}" placeholder:"FILE|stdout"`
		Progress   bool     `name:"progress" help:"Show a progress bar. (only with --cycles)"`
		RPC        string   `name:"rpc" help:"Serve remote controls on this address." placeholder:"HOST:PORT"`
		CPUProfile string   `name:"cpuprofile" help:"Write CPU profile to file." type:"path"`
	}

	StateInfo struct {
		StatePath string `arg:"" name:"/path/to/state" type:"existingfile"`
		Wii       bool   `name:"wii" help:"The state was saved by a Wii."`
		Format    string `name:"format" help:"Output format." enum:"text,json,yaml" default:"text"`
	}

	Version struct{}
)

var vars = kong.Vars{
	"cycles_help": "Number of CPU cycles to run. (negative: run until interrupted)",
	"audio_help":  "Write host audio stream to a WAV file (.wav), or as raw 16-bit little-endian stereo PCM.",
	"log_help":    "Enable logging for specified modules.",
}

func parseArgs(args []string) CLI {
	var cfg CLI
	parser, err := kong.New(&cfg,
		kong.Name("cubecore"),
		kong.Description("GameCube/Wii hardware timing core."),
		kong.UsageOnError(),
		kong.Help(printHelp),
		vars)
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(args)
	checkf(err, "failed to parse command line")
	checkf(ctx.Error, "failed to parse command line")

	switch ctx.Command() {
	case "state-info </path/to/state>":
		cfg.mode = stateInfoMode
	case "version":
		cfg.mode = versionMode
	default:
		cfg.mode = runMode
	}
	return cfg
}

func printHelp(options kong.HelpOptions, ctx *kong.Context) error {
	if err := kong.DefaultHelpPrinter(options, ctx); err != nil {
		return err
	}
	if strings.HasPrefix(ctx.Command(), "run") {
		loggingHelp := `
Log modules:
  The --log flag accepts a comma-separated list of modules.

  Valid log modules are:
%s

  As a special case, the following values are accepted:
    - no                     Disable all logging.
    - all                    Enable all logs.
`
		var strs []string
		for _, m := range log.ModuleNames() {
			strs = append(strs, "    - "+m)
		}

		fmt.Fprintf(os.Stderr, loggingHelp, strings.Join(strs, "\n"))
	}

	return nil
}

type logModMask log.ModuleMask

// Decode decodes a comma-separated list of module names into a module mask.
//
// Implements kong.MapperValue interface.
func (lm logModMask) Decode(ctx *kong.DecodeContext) error {
	nolog := false
	allLogs := false

	tok := ctx.Scan.Pop()
	for _, v := range strings.Split(tok.Value.(string), ",") {
		switch v {
		case "all":
			allLogs = true
		case "no":
			nolog = true
		default:
			mod, ok := log.ModuleByName(v)
			if !ok {
				return fmt.Errorf("unknown log module %s", v)
			}
			lm |= logModMask(mod.Mask())
		}
	}

	if nolog {
		if allLogs {
			return fmt.Errorf("cannot use 'all' and 'no' together")
		}
		if lm != 0 {
			return fmt.Errorf("cannot combine 'no' with other log modules")
		}
		log.Disable()
		return nil
	}

	if allLogs {
		lm = logModMask(log.ModuleMaskAll)
	}

	log.EnableDebugModules(log.ModuleMask(lm))
	return nil
}

type outfile struct {
	w     io.Writer
	name  string
	close func() error
}

// Decode decodes FILE|stdout|stderr into an io.WriteCloser
// that writes to that file.
//
// Implements kong.MapperValue interface.
func (f *outfile) Decode(ctx *kong.DecodeContext) error {
	tok := ctx.Scan.Pop()
	f.name = tok.Value.(string)
	f.close = func() error { return nil }

	switch f.name {
	case "stdout":
		f.w = os.Stdout
	case "stderr":
		f.w = os.Stderr
	default:
		fd, err := os.Create(f.name)
		if err != nil {
			return err
		}
		f.w = fd
		f.close = fd.Close
	}
	return nil
}

func (f *outfile) String() string              { return f.name }
func (f *outfile) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *outfile) Close() error                { return f.close() }

func checkf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	fatalf(format+".\n"+err.Error(), args...)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal error:")
	fmt.Fprintf(os.Stderr, "\n\t%s\n", fmt.Sprintf(format, args...))
	os.Exit(1)
}
