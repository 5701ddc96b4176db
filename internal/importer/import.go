package importer

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/romcoding/architex/pkg/types"
)

// Hub is the part of the knowledge service the importer drives.
type Hub interface {
	CreateAsset(ctx context.Context, p types.Principal, draft types.AssetDraft) (*types.Asset, error)
	LinkAssets(ctx context.Context, p types.Principal, fromID, toID string, relType types.RelationshipType, description string) (*types.Relationship, error)
	IterateAssets(ctx context.Context, p types.Principal, filter types.AssetFilter) iter.Seq2[types.Asset, error]
}

// FileReport is the outcome for one file.
type FileReport struct {
	RelativePath string   `json:"path"`
	Title        string   `json:"title,omitempty"`
	AssetID      string   `json:"asset_id,omitempty"`
	Skipped      bool     `json:"skipped,omitempty"`
	Linked       int      `json:"linked"`
	Errors       []string `json:"errors,omitempty"`
}

// Report summarises an import run.
type Report struct {
	FilesFound    int           `json:"files_found"`
	AssetsCreated int           `json:"assets_created"`
	AssetsSkipped int           `json:"assets_skipped"`
	Linked        int           `json:"relationships_linked"`
	Failed        int           `json:"files_failed"`
	Files         []FileReport  `json:"files"`
	Duration      time.Duration `json:"duration_ms"`
}

// Importer walks a Markdown directory and feeds it to a Hub.
type Importer struct {
	hub    Hub
	logger *zap.Logger
}

// NewImporter creates an importer. A nil logger discards output.
func NewImporter(hub Hub, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{hub: hub, logger: logger}
}

// Import creates one asset per Markdown file under root, authored by p, and
// then links the references between them. Files whose title is already
// present in the hub are skipped along with their references, so a second
// run over the same directory only adds what is new. Per-file problems are
// recorded in the report and never abort the run; only an unreadable root
// or a canceled context does.
func (imp *Importer) Import(ctx context.Context, p types.Principal, root string) (*Report, error) {
	start := time.Now()

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", root)
	}

	paths, err := collectMarkdownFiles(root)
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", root, err)
	}
	report := &Report{FilesFound: len(paths)}

	byTitle := make(map[string]string)
	for a, err := range imp.hub.IterateAssets(ctx, p, types.AssetFilter{}) {
		if err != nil {
			return nil, fmt.Errorf("list existing assets: %w", err)
		}
		key := strings.ToLower(a.Title)
		if _, ok := byTitle[key]; !ok {
			byTitle[key] = a.ID
		}
	}

	// Phase 1: create every asset so references can point forwards.
	parsed := make([]*ParsedFile, len(paths))
	report.Files = make([]FileReport, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rel, _ := filepath.Rel(root, path)
		fr := &report.Files[i]
		fr.RelativePath = filepath.ToSlash(rel)

		pf, err := readFile(path, fr.RelativePath)
		if err != nil {
			fr.Errors = append(fr.Errors, err.Error())
			report.Failed++
			continue
		}
		fr.Title = pf.Title

		key := strings.ToLower(pf.Title)
		if id, ok := byTitle[key]; ok {
			fr.AssetID = id
			fr.Skipped = true
			report.AssetsSkipped++
			continue
		}

		asset, err := imp.hub.CreateAsset(ctx, p, pf.Draft())
		if err != nil {
			fr.Errors = append(fr.Errors, fmt.Sprintf("create: %v", err))
			report.Failed++
			continue
		}
		fr.AssetID = asset.ID
		byTitle[key] = asset.ID
		report.AssetsCreated++
		parsed[i] = pf
	}

	// Phase 2: resolve references by title and link.
	for i, pf := range parsed {
		if pf == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fr := &report.Files[i]
		for _, ref := range pf.References {
			target, ok := byTitle[strings.ToLower(ref.Target)]
			if !ok {
				fr.Errors = append(fr.Errors, fmt.Sprintf("%s %q: no asset with that title", ref.Type, ref.Target))
				continue
			}
			note := ref.Note
			if note == "" {
				note = "imported from " + fr.RelativePath
			}
			if _, err := imp.hub.LinkAssets(ctx, p, fr.AssetID, target, ref.Type, note); err != nil {
				fr.Errors = append(fr.Errors, fmt.Sprintf("%s %q: %v", ref.Type, ref.Target, err))
				continue
			}
			fr.Linked++
			report.Linked++
		}
	}

	report.Duration = time.Since(start)
	imp.logger.Info("import finished",
		zap.String("root", root),
		zap.Int("files", report.FilesFound),
		zap.Int("created", report.AssetsCreated),
		zap.Int("skipped", report.AssetsSkipped),
		zap.Int("linked", report.Linked),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func readFile(path, rel string) (*ParsedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("empty file")
	}
	pf, err := ParseMarkdownFile(data, rel)
	if err != nil {
		return nil, err
	}
	if err := pf.Draft().Validate(); err != nil {
		return nil, err
	}
	return pf, nil
}

// collectMarkdownFiles walks dirPath and returns all .md / .markdown files
// in lexical order. Hidden directories (e.g. .git) are skipped.
func collectMarkdownFiles(dirPath string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dirPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == ".md" || ext == ".markdown" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
