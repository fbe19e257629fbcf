package docgen

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/pkg/pipeline"
	"github.com/askiada/sonicator-hil/pkg/pipeline/model"
)

// skipDirs are never walked.
var skipDirs = map[string]bool{
	".git":         true,
	".pio":         true,
	"build":        true,
	"node_modules": true,
	"__pycache__":  true,
	"vendor":       true,
	".venv":        true,
}

// Options configures Generate.
type Options struct {
	Roots       []string
	OutDir      string
	Title       string
	Concurrency int
	HTML        bool
}

// Index is the result of Generate.
type Index struct {
	Title string     `json:"title"`
	Files []*FileDoc `json:"files"`
}

type sourceFile struct {
	root string
	path string
	lang Language
}

func walkRoot(root string) func(ctx context.Context, out chan<- sourceFile) error {
	return func(ctx context.Context, out chan<- sourceFile) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && skipDirs[d.Name()] {
					return filepath.SkipDir
				}

				return nil
			}
			lang, ok := LanguageOf(path)
			if !ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- sourceFile{root: root, path: path, lang: lang}:
			}

			return nil
		})
	}
}

func scrapeFile(_ context.Context, f sourceFile) (*FileDoc, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", f.path)
	}
	defer file.Close()

	rel, err := filepath.Rel(filepath.Dir(filepath.Clean(f.root)), f.path)
	if err != nil {
		rel = f.path
	}

	return Scrape(rel, f.lang, file)
}

// Collect scrapes every supported file under the roots. Files are sorted by path.
func Collect(ctx context.Context, roots []string, concurrency int) ([]*FileDoc, error) {
	if len(roots) == 0 {
		return nil, errors.New("at least one root is required")
	}

	pipe, err := pipeline.New(ctx)
	if err != nil {
		return nil, err
	}
	sources := make([]*model.Stage[sourceFile], 0, len(roots))
	for _, root := range roots {
		src, err := pipeline.AddSource(pipe, "walk "+root, walkRoot(root))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	files, err := pipeline.AddFanIn(pipe, "files", sources...)
	if err != nil {
		return nil, err
	}
	docs, err := pipeline.AddStage(pipe, "scrape", files, scrapeFile, pipeline.StageConcurrency(max(1, concurrency)))
	if err != nil {
		return nil, err
	}
	res, err := pipeline.Collect(pipe, "collect", docs)
	if err != nil {
		return nil, err
	}
	err = pipe.Run()
	if err != nil {
		return nil, errors.Wrap(err, "unable to scrape sources")
	}

	sort.Slice(*res, func(i, j int) bool {
		return (*res)[i].Path < (*res)[j].Path
	})

	return *res, nil
}

// Generate scrapes the roots and writes one Markdown page per file, an index.md
// and, with opts.HTML, an index.html.
func Generate(ctx context.Context, opts Options) (*Index, error) {
	docs, err := Collect(ctx, opts.Roots, opts.Concurrency)
	if err != nil {
		return nil, err
	}
	title := opts.Title
	if title == "" {
		title = "API documentation"
	}
	index := &Index{Title: title, Files: docs}

	err = os.MkdirAll(opts.OutDir, 0o755)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create %s", opts.OutDir)
	}
	for _, doc := range docs {
		path := filepath.Join(opts.OutDir, PageName(doc.Path))
		err = os.WriteFile(path, []byte(RenderMarkdown(doc)), 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to write %s", path)
		}
	}
	err = os.WriteFile(filepath.Join(opts.OutDir, "index.md"), []byte(RenderIndex(index)), 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "unable to write index")
	}
	if opts.HTML {
		file, err := os.Create(filepath.Join(opts.OutDir, "index.html"))
		if err != nil {
			return nil, errors.Wrap(err, "unable to create html index")
		}
		defer file.Close()
		err = RenderHTML(file, index)
		if err != nil {
			return nil, err
		}
	}
	glog.Infof("documented %d files into %s", len(docs), opts.OutDir)

	return index, nil
}

// PageName is the Markdown file name of the documentation of path.
func PageName(path string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ".", "_")

	return r.Replace(path) + ".md"
}
