package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/classweave/manifest"
	"github.com/chazu/classweave/pkg/boot"
	"github.com/chazu/classweave/pkg/launch"
	"github.com/chazu/classweave/pkg/pipeline"
	"github.com/klauspost/compress/zip"
)

// handleTransformCommand processes the `classweave transform` subcommand.
// Usage:
//
//	classweave transform -o out.jar in.jar
//	classweave transform -cmdline "--version 1.8.9" -o out.jar in.jar
func handleTransformCommand(cfg *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	output := fs.String("o", "", "Output jar (required)")
	cmdline := fs.String("cmdline", "", "Host command line for the version gate (default from [launch])")
	fs.Parse(args)

	if *output == "" || fs.NArg() != 1 {
		return errors.New("usage: classweave transform -o out.jar in.jar")
	}
	input := fs.Arg(0)

	opts := []pipeline.Option{
		pipeline.WithDownstream(boot.DownstreamFunc(func(any) error {
			log.Infof("downstream initialized")
			return nil
		})),
		pipeline.WithPathExtender(launch.PathExtenderFunc(func(loader launch.LoaderID, location string) error {
			log.Infof("loader %d: add %s", loader, location)
			return nil
		})),
	}
	if *cmdline != "" {
		opts = append(opts, pipeline.WithCommandLine(*cmdline))
	}
	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	in, err := zip.OpenReader(input)
	if err != nil {
		return fmt.Errorf("opening %s: %w", input, err)
	}
	defer in.Close()

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	n, err := transformJar(p, &in.Reader, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(*output)
		return err
	}

	st := p.Stats()
	fmt.Printf("%s: %d classes, %d rewritten, %d failed (%s, gate %s)\n",
		*output, n, st.Rewrites, st.Failures+st.Panics, p.Decision().Verdict, st.Gate)
	return nil
}

// transformJar copies every entry of in to out, passing classes through
// the pipeline in archive order. It returns the number of classes seen.
func transformJar(p *pipeline.Pipeline, in *zip.Reader, out io.Writer) (int, error) {
	w := zip.NewWriter(out)
	classes := 0
	for _, f := range in.File {
		if !strings.HasSuffix(f.Name, ".class") || f.FileInfo().IsDir() {
			if err := w.Copy(f); err != nil {
				return classes, fmt.Errorf("copying %s: %w", f.Name, err)
			}
			continue
		}

		classes++
		raw, err := readEntry(f)
		if err != nil {
			return classes, err
		}
		data := raw
		if rewritten := p.Transform(0, strings.TrimSuffix(f.Name, ".class"), raw); rewritten != nil {
			log.Infof("rewrote %s (%d -> %d bytes)", f.Name, len(raw), len(rewritten))
			data = rewritten
		}

		hdr := f.FileHeader
		hdr.Method = zip.Deflate
		ew, err := w.CreateHeader(&hdr)
		if err != nil {
			return classes, err
		}
		if _, err := ew.Write(data); err != nil {
			return classes, fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	return classes, w.Close()
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return data, nil
}
