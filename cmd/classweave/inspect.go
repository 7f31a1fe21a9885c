package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/classweave/manifest"
	"github.com/chazu/classweave/pkg/classfile"
	"github.com/chazu/classweave/pkg/interp"
	"github.com/chazu/classweave/pkg/journal"
	"github.com/klauspost/compress/zip"
)

// handleDisasmCommand processes the `classweave disasm` subcommand.
// Usage:
//
//	classweave disasm Foo.class
//	classweave disasm -m getActiveModList mods.jar
func handleDisasmCommand(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	method := fs.String("m", "", "Only print methods with this name")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("usage: classweave disasm [-m method] file.class|file.jar ...")
	}
	for _, path := range fs.Args() {
		classes, err := loadClasses(path)
		if err != nil {
			return err
		}
		for _, cf := range classes {
			printClass(cf, *method)
		}
	}
	return nil
}

func printClass(cf *classfile.ClassFile, method string) {
	if method == "" {
		fmt.Print(cf.Disassemble())
		return
	}
	for _, m := range cf.Methods {
		if m.Name == method {
			fmt.Print(classfile.DisassembleMethod(cf, m))
		}
	}
}

// loadClasses parses a class file, or every class in a jar.
func loadClasses(path string) ([]*classfile.ClassFile, error) {
	if !strings.HasSuffix(path, ".jar") && !strings.HasSuffix(path, ".zip") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []*classfile.ClassFile{cf}, nil
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []*classfile.ClassFile
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".class") {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping %s: %v\n", f.Name, err)
			continue
		}
		out = append(out, cf)
	}
	return out, nil
}

// handleRunCommand processes the `classweave run` subcommand.
// Arguments are ints, null, list:a,b,c or strings.
func handleRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	method := fs.String("m", "main", "Static method to run")
	desc := fs.String("desc", "", "Method descriptor (default: first method with that name)")
	steps := fs.Int("steps", 0, "Instruction limit (default 1000000)")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("usage: classweave run [-m method] [-desc descriptor] file.class [args...]")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return err
	}

	vm := interp.New(cf)
	vm.Out = os.Stdout
	if *steps > 0 {
		vm.MaxSteps = *steps
	}
	var values []interp.Value
	for _, a := range fs.Args()[1:] {
		values = append(values, parseValue(a))
	}
	result, err := vm.Invoke(*method, *desc, values...)
	if err != nil {
		return err
	}
	if m := cf.FindMethod(*method, *desc); m != nil && classfile.ReturnDescriptor(m.Descriptor) != "V" {
		fmt.Println(interp.ToString(result))
	}
	return nil
}

func parseValue(s string) interp.Value {
	switch {
	case s == "null":
		return nil
	case strings.HasPrefix(s, "list:"):
		var items []interp.Value
		if body := strings.TrimPrefix(s, "list:"); body != "" {
			for _, item := range strings.Split(body, ",") {
				items = append(items, item)
			}
		}
		return interp.NewList(items...)
	}
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int32(n)
	}
	return s
}

// handleJournalCommand processes the `classweave journal` subcommand.
func handleJournalCommand(cfg *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	run := fs.String("run", "", "Only print records of this run ID")
	fs.Parse(args)

	path := cfg.JournalPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	records, err := journal.ReadFile(path)
	if err != nil {
		return err
	}
	for _, r := range records {
		if *run == "" || r.Run == *run {
			fmt.Println(r)
		}
	}
	return nil
}

// handleVersionCommand processes the `classweave version` subcommand.
func handleVersionCommand(cfg *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	cmdline := fs.String("cmdline", cfg.Launch.CommandLine, "Host command line to check")
	fs.Parse(args)

	d := cfg.Policy().Check(*cmdline)
	fmt.Printf("classweave %s\n", Version)
	fmt.Printf("host version %s: %s (supported %s)\n", d.Version, d.Verdict, strings.Join(cfg.Launch.Supported, ", "))
	return nil
}
