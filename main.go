package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"cubecore/emu"
)

func main() {
	cli := parseArgs(os.Args[1:])
	cfg := emu.LoadConfigOrDefault()

	switch cli.mode {
	case runMode:
		runMain(cli.Run, cfg)
	case stateInfoMode:
		stateInfoMain(cli.StateInfo, cfg)
	case versionMode:
		printVersion()
	}
}

func printVersion() {
	version := "(devel)"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		version = bi.Main.Version
	}
	fmt.Println("cubecore", version)
}
