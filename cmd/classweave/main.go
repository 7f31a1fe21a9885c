// classweave CLI - rewrites class files the way the load hook would, and
// inspects the results
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/classweave/manifest"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Version is the classweave release.
const Version = "0.3.0"

var log = commonlog.GetLogger("classweave")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: classweave [options] <command> [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  transform  Run every class of a jar through the load hooks\n")
	fmt.Fprintf(os.Stderr, "  disasm     Print the instructions of a class or jar\n")
	fmt.Fprintf(os.Stderr, "  run        Execute a static method of a class\n")
	fmt.Fprintf(os.Stderr, "  journal    Print the records of a journal file\n")
	fmt.Fprintf(os.Stderr, "  version    Print the version and the launch verdict\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  classweave transform -o patched.jar forge.jar\n")
	fmt.Fprintf(os.Stderr, "  classweave disasm -m getActiveModList patched.jar\n")
	fmt.Fprintf(os.Stderr, "  classweave run -m active Demo.class list:a,b#hidden\n")
	fmt.Fprintf(os.Stderr, "  classweave version -cmdline \"--version 1.8.9\"\n")
}

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 errors only, higher is chattier)")
	logFile := flag.String("log", "", "Write the log to this file instead of stderr")
	dir := flag.String("C", ".", "Directory to search upward for classweave.toml")

	flag.Usage = usage
	flag.Parse()

	var path *string
	if *logFile != "" {
		path = logFile
	}
	commonlog.Configure(*verbosity, path)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "transform":
		err = handleTransformCommand(cfg, args[1:])
	case "disasm":
		err = handleDisasmCommand(args[1:])
	case "run":
		err = handleRunCommand(args[1:])
	case "journal":
		err = handleJournalCommand(cfg, args[1:])
	case "version":
		err = handleVersionCommand(cfg, args[1:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the nearest classweave.toml, or the defaults.
func loadConfig(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		log.Debugf("no %s found, using defaults", manifest.FileName)
		return manifest.Default(), nil
	}
	log.Debugf("configuration from %s", m.Dir)
	return m, nil
}
