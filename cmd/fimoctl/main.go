package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"plugin"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/fimoengine/fimo-sub001/config"
	fimocontext "github.com/fimoengine/fimo-sub001/context"
	"github.com/fimoengine/fimo-sub001/module"
	"github.com/fimoengine/fimo-sub001/tracing"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load(os.Getenv("FIMO_CONFIG"))
	if err != nil {
		fatalf("load config: %v", err)
	}

	ctx, err := fimocontext.Init(cfg, []tracing.Subscriber{tracing.NewZerologSubscriber(os.Stderr)})
	if err != nil {
		fatalf("init context: %v", err)
	}
	defer ctx.Release()

	switch os.Args[1] {
	case "load":
		cmdLoad(ctx, os.Args[2:])
	case "list", "ls":
		cmdList(ctx)
	case "get":
		cmdGet(ctx, os.Args[2:])
	case "console":
		cmdConsole(ctx)
	default:
		fatalf("unknown command: %s", os.Args[1])
	}
}

// cmdLoad builds a LoadingSet, appends every plugin path's export records
// (loading the .so via plugin.Open first so its init() populates
// internal/export — see internal/export's doc comment), and commits. A
// leading "-filter <json>" pair decodes the JSON object into
// module.ExportFilterData and applies it to every path's export scan, so
// only exports matching names_allowed/require_author/min_version_major get
// staged.
func cmdLoad(ctx *fimocontext.Context, args []string) {
	var filterData string
	paths := args
	if len(args) >= 2 && args[0] == "-filter" {
		filterData = args[1]
		paths = args[2:]
	}
	if len(paths) == 0 {
		fatalf("usage: fimoctl load [-filter <json>] <plugin.so> [plugin.so...]")
	}

	var filter func(module.ExportRecord) bool
	if filterData != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(filterData), &raw); err != nil {
			fatalf("parse -filter JSON: %v", err)
		}
		fd, err := module.DecodeFilterData(raw)
		if err != nil {
			fatalf("decode filter data: %v", err)
		}
		filter = fd.Filter()
	}

	set := ctx.NewLoadingSet()
	for _, path := range paths {
		if _, err := plugin.Open(path); err != nil {
			fatalf("open plugin %s: %v", path, err)
		}
		if err := set.AppendModules(path, filter); err != nil {
			fatalf("append modules from %s: %v", path, err)
		}
	}

	if err := set.Finish(); err != nil {
		fatalf("commit loading set: %v", err)
	}
	fmt.Printf("Loaded %d module path(s).\n", len(paths))
}

func cmdList(ctx *fimocontext.Context) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tLOADED")
	ctx.Modules().Each(func(info *module.Info) {
		fmt.Fprintf(w, "%s\t%s\t%v\n", info.Name(), info.Version(), info.IsLoaded())
	})
	if err := w.Flush(); err != nil {
		fatalf("flush output: %v", err)
	}
}

func cmdGet(ctx *fimocontext.Context, args []string) {
	if len(args) != 2 {
		fatalf("usage: fimoctl get <module> <param>")
	}
	info, err := ctx.Modules().FindByName(args[0])
	if err != nil {
		fatalf("find module %s: %v", args[0], err)
	}
	m := info.Module()
	if m == nil {
		fatalf("module %s is not loaded", args[0])
	}
	p, err := m.Param(args[1])
	if err != nil {
		fatalf("find param %s: %v", args[1], err)
	}
	v, err := p.Get(nil)
	if err != nil {
		fatalf("read param %s: %v", args[1], err)
	}
	fmt.Println(v)
}

// cmdConsole drops into a line-oriented REPL over the loaded registry,
// mirroring the teacher's console.go raw-terminal check (term.IsTerminal)
// without a PTY to relay to — there is no VM session here, just commands.
func cmdConsole(ctx *fimocontext.Context) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fatalf("stdin is not a terminal")
	}

	fmt.Fprintln(os.Stderr, "fimoctl console. Commands: list, get <module> <param>, deps <module>, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return
		case "list", "ls":
			cmdList(ctx)
		case "get":
			if len(fields) != 3 {
				fmt.Fprintln(os.Stderr, "usage: get <module> <param>")
				continue
			}
			cmdGet(ctx, fields[1:])
		case "deps":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stderr, "usage: deps <module>")
				continue
			}
			cmdDeps(ctx, fields[1])
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", fields[0])
		}
	}
}

func cmdDeps(ctx *fimocontext.Context, name string) {
	info, err := ctx.Modules().FindByName(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "find module %s: %v\n", name, err)
		return
	}
	m := info.Module()
	if m == nil {
		fmt.Fprintf(os.Stderr, "module %s is not loaded\n", name)
		return
	}
	for _, dep := range m.DependencyNames() {
		fmt.Println(dep)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `fimoctl - Fimo module runtime CLI

Usage: fimoctl <command> [arguments]

Commands:
  load [-filter <json>] <plugin.so>...
                          Load one or more Go-plugin module binaries,
                          optionally filtered by a names_allowed/
                          require_author/min_version_major JSON object
  list                    List loaded modules
  get <module> <param>    Read a public parameter
  console                 Interactive REPL over the loaded registry
`)
	os.Exit(1)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
