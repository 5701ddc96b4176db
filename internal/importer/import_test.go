package importer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romcoding/architex/internal/importer"
	"github.com/romcoding/architex/internal/knowledge"
	"github.com/romcoding/architex/internal/storage/memory"
	"github.com/romcoding/architex/pkg/types"
)

var architect = types.Principal{ID: "user-123", Role: types.RoleArchitect}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func newService(t *testing.T) *knowledge.Service {
	t.Helper()
	store, err := memory.NewStore(0)
	require.NoError(t, err)
	svc, err := knowledge.NewService(store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestImport_CreatesAssetsAndLinks(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"architecture/microservices.md": "---\ntitle: Microservices\n---\nSplit by capability.",
		"integration/gateway.md":        "---\ntitle: Gateway\ndepends_on: [Microservices]\n---\nOne entry point. [[Missing Note]]",
		"data/sharding.md":              "---\ntitle: Sharding\ncomplements: Microservices\n---\nPartition data.",
		".hidden/skip.md":               "# Hidden",
		"notes.txt":                     "not markdown",
		"empty.md":                      "   ",
	})
	svc := newService(t)
	ctx := context.Background()

	report, err := importer.NewImporter(svc, nil).Import(ctx, architect, root)
	require.NoError(t, err)

	assert.Equal(t, 4, report.FilesFound)
	assert.Equal(t, 3, report.AssetsCreated)
	assert.Equal(t, 1, report.Failed, "empty file")
	assert.Equal(t, 2, report.Linked)

	byPath := make(map[string]importer.FileReport)
	for _, fr := range report.Files {
		byPath[fr.RelativePath] = fr
	}
	gateway := byPath["integration/gateway.md"]
	assert.Equal(t, 1, gateway.Linked)
	require.Len(t, gateway.Errors, 1)
	assert.Contains(t, gateway.Errors[0], "Missing Note")

	deps := types.RelDependsOn
	neighbors, err := svc.Neighbors(ctx, architect, gateway.AssetID, &deps, types.DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "Microservices", neighbors[0].Title)
	assert.Equal(t, "architecture", neighbors[0].Category)
}

func TestImport_LinkLabelBecomesDescription(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"cqrs.md":   "# CQRS\n\nPair with [[Event Sourcing|an event log]].",
		"events.md": "---\ntitle: Event Sourcing\nextends: [CQRS]\n---\nStore every change.",
	})
	svc := newService(t)
	ctx := context.Background()

	report, err := importer.NewImporter(svc, nil).Import(ctx, architect, root)
	require.NoError(t, err)
	require.Equal(t, 2, report.Linked)

	descriptions := make(map[types.RelationshipType]string)
	for _, fr := range report.Files {
		if fr.RelativePath != "cqrs.md" {
			continue
		}
		rels, err := svc.Relationships(ctx, architect, fr.AssetID)
		require.NoError(t, err)
		for _, rel := range rels {
			descriptions[rel.Type] = rel.Description
		}
	}
	assert.Equal(t, "an event log", descriptions[types.RelComplements])
	assert.Equal(t, "imported from events.md", descriptions[types.RelExtends])
}

func TestImport_SecondRunOnlyAddsNewFiles(t *testing.T) {
	files := map[string]string{
		"a.md": "# Alpha\n\nSee [[Beta]].",
		"b.md": "# Beta\n\nBody.",
	}
	root := writeFiles(t, files)
	svc := newService(t)
	ctx := context.Background()
	imp := importer.NewImporter(svc, nil)

	first, err := imp.Import(ctx, architect, root)
	require.NoError(t, err)
	assert.Equal(t, 2, first.AssetsCreated)
	assert.Equal(t, 1, first.Linked)

	require.NoError(t, os.WriteFile(filepath.Join(root, "c.md"), []byte("# Gamma\n\nExtends [[Alpha]]."), 0o600))
	second, err := imp.Import(ctx, architect, root)
	require.NoError(t, err)
	assert.Equal(t, 1, second.AssetsCreated)
	assert.Equal(t, 2, second.AssetsSkipped)
	assert.Equal(t, 1, second.Linked)
	assert.Zero(t, second.Failed)

	all, err := svc.ListAssets(ctx, architect, types.AssetFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestImport_CycleIsReportedNotFatal(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.md": "---\ntitle: A\ndepends_on: [B]\n---\na",
		"b.md": "---\ntitle: B\ndepends_on: [A]\n---\nb",
	})
	report, err := importer.NewImporter(newService(t), nil).Import(context.Background(), architect, root)
	require.NoError(t, err)
	assert.Equal(t, 2, report.AssetsCreated)
	assert.Equal(t, 1, report.Linked)

	var errs []string
	for _, fr := range report.Files {
		errs = append(errs, fr.Errors...)
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "CONFLICT")
}

func TestImport_ViewerCannotImport(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.md": "# A\n\nbody"})
	report, err := importer.NewImporter(newService(t), nil).Import(context.Background(),
		types.Principal{ID: "v", Role: types.RoleViewer}, root)
	require.NoError(t, err)
	assert.Zero(t, report.AssetsCreated)
	assert.Equal(t, 1, report.Failed)
}

func TestImport_BadRoot(t *testing.T) {
	imp := importer.NewImporter(newService(t), nil)
	_, err := imp.Import(context.Background(), architect, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.md")
	require.NoError(t, os.WriteFile(file, []byte("# x"), 0o600))
	_, err = imp.Import(context.Background(), architect, file)
	assert.Error(t, err)
}
