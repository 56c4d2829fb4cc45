// Package extract parses source files with tree-sitter and records their
// entities, references and relations in the store.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/rulecheck/internal/discover"
	"github.com/phobologic/rulecheck/internal/lang"
	"github.com/phobologic/rulecheck/internal/model"
	"github.com/phobologic/rulecheck/internal/store"
)

// DefaultMaxFileSize is the size above which files are skipped.
const DefaultMaxFileSize = 1_000_000 // 1 MB

// Options tunes an extraction run.
type Options struct {
	Workers     int   // parser goroutines, GOMAXPROCS when <= 0
	MaxFileSize int64 // DefaultMaxFileSize when <= 0
	Logger      *slog.Logger
}

// Stats summarizes an extraction run.
type Stats struct {
	Files      int
	Skipped    int
	Entities   int
	References int
	Relations  int
}

type useFact struct {
	owner int // index into fileFacts.entities
	ref   model.Reference
	kinds []model.RelationKind
	line  int
	src   string
}

type fileFacts struct {
	path     string
	entities []model.Entity // entities[0] is the file itself
	uses     []useFact
}

// Extract parses files (paths relative to root) concurrently and writes
// their facts to db in file order, one transaction per file. Unreadable or
// oversized files are logged and skipped.
func Extract(ctx context.Context, db *store.DB, root string, files []discover.FileEntry, opts Options) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var stats Stats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	total := len(files)
	files = filterBySize(root, files, maxSize, logger)

	facts, err := parseFilesConcurrent(ctx, root, files, opts.Workers, logger)
	if err != nil {
		return stats, err
	}

	for _, f := range facts {
		if f == nil {
			continue
		}
		if err := write(ctx, db, f, &stats); err != nil {
			return stats, fmt.Errorf("storing %s: %w", f.path, err)
		}
		stats.Files++
	}
	stats.Skipped = total - stats.Files
	logger.Debug("extraction finished",
		"files", stats.Files, "entities", stats.Entities,
		"references", stats.References, "relations", stats.Relations)
	return stats, nil
}

func filterBySize(root string, files []discover.FileEntry, maxSize int64, logger *slog.Logger) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			kept = append(kept, f) // reading will report it
			continue
		}
		if fi.Size() > maxSize {
			logger.Warn("skipping large file", "path", f.Path, "size", fi.Size(), "limit", maxSize)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func parseFilesConcurrent(ctx context.Context, root string, files []discover.FileEntry, workers int, logger *slog.Logger) ([]*fileFacts, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(files) {
		workers = len(files)
	}

	work := make(chan int)
	results := make([]*fileFacts, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for i := range files {
			select {
			case work <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range workers {
		g.Go(func() error {
			// Each goroutine gets its own parsers
			parsers := make(map[string]*sitter.Parser)

			for idx := range work {
				if err := ctx.Err(); err != nil {
					return err
				}
				f := files[idx]
				l := lang.Languages[f.Language]
				if l == nil {
					logger.Warn("skipping file", "path", f.Path, "err", fmt.Sprintf("unsupported language %q", f.Language))
					continue
				}
				p, ok := parsers[f.Language]
				if !ok {
					p = l.NewParser()
					parsers[f.Language] = p
				}

				source, err := os.ReadFile(filepath.Join(root, f.Path))
				if err != nil {
					logger.Warn("skipping file", "path", f.Path, "err", err)
					continue
				}
				facts, err := parseFile(ctx, l, p, source, f.Path)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.Warn("skipping file", "path", f.Path, "err", err)
					continue
				}
				results[idx] = facts
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseFile collects the facts of one file without touching the store.
func parseFile(ctx context.Context, l *lang.Language, p *sitter.Parser, source []byte, path string) (*fileFacts, error) {
	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	defer tree.Close()
	root := tree.RootNode()

	lines := 1
	for _, b := range source {
		if b == '\n' {
			lines++
		}
	}

	f := &fileFacts{path: path}
	f.entities = append(f.entities, model.Entity{
		Type: model.File, Name: path, File: path,
		StartLine: 1, EndLine: lines, Source: string(source),
	})

	w := &walker{lang: l, source: source, facts: f}
	if l.Declared != nil {
		w.declared = l.Declared(root, source)
	}
	w.walk(root, 0)
	return f, nil
}

type walker struct {
	lang     *lang.Language
	source   []byte
	declared map[string]bool
	facts    *fileFacts
}

func (w *walker) walk(n *sitter.Node, owner int) {
	path := w.facts.path

	if typ, name, ok := w.lang.Definition(n, w.source); ok {
		w.facts.entities = append(w.facts.entities, model.Entity{
			Type: typ, Name: name, File: path,
			StartLine: lang.Line(n), EndLine: lang.EndLine(n),
			Source: lang.NodeText(n, w.source),
		})
		owner = len(w.facts.entities) - 1
	}

	if c, ok := w.lang.Call(n, w.source); ok {
		typ := c.Type
		if w.lang.Constructs[c.Name] {
			typ = model.LanguageConstruct
		}
		w.use(owner, n, typ, c.Name, model.Invoke, model.DependOn)
	}

	for _, g := range w.lang.Globals(n, w.source, w.declared) {
		w.use(owner, n, model.Global, g, model.DependOn)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		w.walk(n.Child(i), owner)
	}
}

func (w *walker) use(owner int, n *sitter.Node, typ model.EntityType, name string, kinds ...model.RelationKind) {
	line := lang.Line(n)
	w.facts.uses = append(w.facts.uses, useFact{
		owner: owner,
		ref:   model.Reference{Type: typ, Name: name, File: w.facts.path, Line: line},
		kinds: kinds,
		line:  line,
		src:   lang.SourceLine(w.source, line),
	})
}

func write(ctx context.Context, db *store.DB, f *fileFacts, stats *Stats) error {
	return db.WithTx(ctx, func(tx *store.Writer) error {
		ids := make([]int64, len(f.entities))
		for i, e := range f.entities {
			id, err := tx.InsertEntity(ctx, e)
			if err != nil {
				return err
			}
			ids[i] = id
		}

		refs := make(map[model.Reference]int64)
		for _, u := range f.uses {
			refID, ok := refs[u.ref]
			if !ok {
				var err error
				if refID, err = tx.Reference(ctx, u.ref); err != nil {
					return err
				}
				refs[u.ref] = refID
			}
			for _, kind := range u.kinds {
				if err := tx.InsertRelation(ctx, model.Relation{
					Kind: kind, EntityID: ids[u.owner], ReferenceID: refID,
					File: u.ref.File, Line: u.line, Source: u.src,
				}); err != nil {
					return err
				}
			}
			stats.Relations += len(u.kinds)
		}
		stats.Entities += len(f.entities)
		stats.References += len(refs)
		return nil
	})
}

// Fresh reports whether db already holds the facts of exactly files and
// was written after every one of them last changed, so extraction can be
// skipped. In-memory stores are never fresh.
func Fresh(ctx context.Context, db *store.DB, root string, files []discover.FileEntry) bool {
	if db.Path() == store.Memory {
		return false
	}
	dbInfo, err := os.Stat(db.Path())
	if err != nil {
		return false
	}
	dbMtime := dbInfo.ModTime()

	stored, err := db.Files(ctx)
	if err != nil || len(stored) != len(files) {
		return false
	}
	want := make(map[string]struct{}, len(files))
	for _, f := range files {
		want[f.Path] = struct{}{}
	}
	for _, name := range stored {
		if _, ok := want[name]; !ok {
			return false
		}
	}

	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			return false
		}
		if !fi.ModTime().Before(dbMtime) {
			return false
		}
	}
	return true
}
