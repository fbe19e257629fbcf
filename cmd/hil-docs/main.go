// Command hil-docs generates Markdown and HTML API documentation from the
// firmware and tooling sources.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"runtime"

	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/askiada/sonicator-hil/internal/cli"
	"github.com/askiada/sonicator-hil/internal/docgen"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	common := cli.Register(flag.CommandLine)
	title := flag.String("title", "Multi-sonicator API", "documentation title")
	html := flag.Bool("html", true, "also write index.html")
	workers := flag.Int("workers", runtime.NumCPU(), "files scraped concurrently")
	flag.Usage = func() {
		pterm.Println("usage: hil-docs [flags] <root>...")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		return cli.Usage(flag.CommandLine, "at least one source root is required")
	}
	settings, _, err := common.Load()
	if err != nil {
		return cli.Fail(err)
	}
	ctx, cancel := cli.Context()
	defer cancel()

	out := cli.Output(settings, "docs")
	index, err := docgen.Generate(ctx, docgen.Options{
		Roots:       flag.Args(),
		OutDir:      out,
		Title:       *title,
		Concurrency: *workers,
		HTML:        *html,
	})
	if err != nil {
		return cli.Fail(err)
	}
	pterm.Success.Printfln("documented %d files into %s", len(index.Files), filepath.Join(out, "index.md"))

	return cli.ExitOK
}
