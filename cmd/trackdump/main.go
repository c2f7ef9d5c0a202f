// trackdump
// Licensed under MIT

/*
Command trackdump is the external collaborator the core never embeds:
argv parsing, file iteration and exit-code policy, wired over the
trackdump package's Dump and report.TextReporter. It recognizes the flat
flag set from spec.md §6.4 -- no subcommands, so the standard library's
flag package covers it without reaching for a command-tree framework.
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/mukunda/trackdump"
	"github.com/mukunda/trackdump/internal/byteio"
	"github.com/mukunda/trackdump/registry"
	"github.com/mukunda/trackdump/report"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// levelFlag backs the -d[=N]/-s[=N]/-p[=N]/-a[=N] flags: bare presence
// (-d) sets set=true with n=1, and -d=N records the level without
// requiring a value every time. IsBoolFlag lets the standard flag package
// accept the bare form the same way it accepts a plain -q.
type levelFlag struct {
	set bool
	n   int
}

func (l *levelFlag) String() string { return "" }

func (l *levelFlag) Set(s string) error {
	l.set = true
	if s == "" || s == "true" {
		l.n = 1
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return err
	}
	l.n = n
	return nil
}

func (l *levelFlag) IsBoolFlag() bool { return true }

func run(args []string) int {
	fs := flag.NewFlagSet("trackdump", flag.ContinueOnError)

	quiet := fs.Bool("q", false, "suppress normal lines; warnings and errors still print")

	var descriptions, samples, patterns, rows levelFlag
	fs.Var(&descriptions, "d", "dump module/song descriptions (every level prints the same)")
	fs.Var(&samples, "s", "dump sample tables, -s=2 for extended fields")
	fs.Var(&patterns, "p", "dump pattern summaries, -p=2 for full row grids")
	fs.Var(&rows, "a", "dump full pattern row grids")

	highlightSpec := fs.String("H", "", "highlight column-kind spec")
	filterSpec := fs.String("f", "", "extension or tag filter list")

	if err := fs.Parse(args); err != nil {
		return -1
	}

	cfg := trackdump.Config{
		Quiet:            *quiet,
		DumpDescriptions: descriptions.set,
		DumpSamples:      samples.set,
		DumpSamplesExtra: samples.n >= 2,
		DumpPatterns:     patterns.set || rows.set,
		DumpPatternRows:  patterns.n >= 2 || rows.set,
	}
	applyHighlightSpec(&cfg, *highlightSpec)
	filters := parseFilterList(*filterSpec)

	reporter := report.NewStdoutTextReporter()
	reporter.Quiet = cfg.Quiet

	filenames := fs.Args()
	if len(filenames) == 1 && filenames[0] == "-" {
		filenames = readFilenamesFromStdin()
	}

	if len(filenames) == 0 {
		fmt.Fprintln(os.Stderr, "trackdump: no input files")
		return -1
	}

	reg := trackdump.NewRegistry()
	exitCode := 0
	processed := 0

	for _, name := range filenames {
		if !passesFilter(name, filters) {
			continue
		}
		processed++
		if err := processFile(name, cfg, reporter, reg); err != nil {
			reporter.Error(fmt.Sprintf("%s: %v", name, err))
			exitCode = 1
		}
	}

	reporter.Line("Files processed", fmt.Sprintf("%d", processed))
	for _, h := range reg.Handlers() {
		h.ReportGlobalStats(reporter)
	}

	return exitCode
}

func processFile(name string, cfg trackdump.Config, reporter report.Reporter, reg *registry.Registry) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := byteio.New(file)
	if err != nil {
		return err
	}

	module, parseErr := reg.TryLoad(reader)
	if parseErr != nil {
		return parseErr
	}

	reporter.Line("File", name)
	trackdump.Dump(module, cfg, reporter)
	return nil
}

// applyHighlightSpec fills cfg.Highlight from a comma-separated list of
// byte values named by -H=spec (e.g. "-H=0,16,32"). The exact column-kind
// grammar is a driver concern the core only stores a bitmask and table
// for; unrecognized tokens are ignored rather than rejected, since the
// highlight map is advisory display-only state.
func applyHighlightSpec(cfg *trackdump.Config, spec string) {
	if spec == "" {
		return
	}
	for _, tok := range parseFilterList(spec) {
		var v int
		if _, err := fmt.Sscanf(tok, "%d", &v); err == nil && v >= 0 && v < 256 {
			cfg.Highlight[v] = true
			cfg.HighlightMask |= 1
		}
	}
}

func parseFilterList(spec string) []string {
	if spec == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(spec); i++ {
		if i == len(spec) || spec[i] == ',' {
			if i > start {
				out = append(out, spec[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func passesFilter(name string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if len(name) >= len(f) && name[len(name)-len(f):] == f {
			return true
		}
	}
	return false
}

func readFilenamesFromStdin() []string {
	var out []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
