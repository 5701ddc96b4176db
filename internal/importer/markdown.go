package importer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/romcoding/architex/pkg/types"
)

// referenceKeys maps frontmatter keys to the relationship type they declare.
var referenceKeys = []struct {
	key     string
	relType types.RelationshipType
}{
	{"depends_on", types.RelDependsOn},
	{"implements", types.RelImplements},
	{"extends", types.RelExtends},
	{"conflicts_with", types.RelConflictsWith},
	{"complements", types.RelComplements},
}

// Reference is an outgoing relationship declared by a file, addressed by the
// target asset's title. Note, when set, becomes the relationship description.
type Reference struct {
	Target string
	Type   types.RelationshipType
	Note   string
}

// ParsedFile represents a single Markdown file that has been parsed.
type ParsedFile struct {
	// RelativePath is the path relative to the import root directory.
	RelativePath string

	// Title comes from frontmatter, then the first H1 heading, then the
	// file name.
	Title string

	// Content is the Markdown body with frontmatter stripped and wiki links
	// rendered as plain text.
	Content string

	Type     types.AssetType
	Category string

	// Tags is the merged set of tags from frontmatter and inline #tags.
	Tags []string

	// Public defaults to true when frontmatter does not say otherwise.
	Public bool

	// References lists frontmatter relationships followed by body
	// [[wiki links]] as COMPLEMENTS, deduplicated by target and type.
	References []Reference
}

// Draft converts the file into an asset draft.
func (pf *ParsedFile) Draft() types.AssetDraft {
	return types.AssetDraft{
		Title:    pf.Title,
		Content:  pf.Content,
		Type:     pf.Type,
		Category: pf.Category,
		Tags:     pf.Tags,
		IsPublic: pf.Public,
	}
}

// ParseMarkdownFile parses a single Markdown file's content. relativePath
// supplies the fallback title and category.
func ParseMarkdownFile(content []byte, relativePath string) (*ParsedFile, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("frontmatter parse error in %s: %w", relativePath, err)
	}

	title := extractString(fm, "title", "")
	if title == "" {
		title = extractH1(body)
	}
	if title == "" {
		title = titleFromPath(relativePath)
	}

	assetType := types.AssetTypePattern
	if raw := extractString(fm, "type", ""); raw != "" {
		assetType, err = types.ParseAssetType(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", relativePath, err)
		}
	}

	category := extractString(fm, "category", "")
	if category == "" {
		category = categoryFromPath(relativePath)
	}

	public := true
	if v, ok := fm["public"].(bool); ok {
		public = v
	}

	var refs []Reference
	seen := make(map[string]bool)
	addRef := func(ref Reference) {
		ref.Target = strings.TrimSpace(ref.Target)
		key := strings.ToLower(ref.Target) + "\x00" + string(ref.Type)
		if ref.Target == "" || seen[key] || strings.EqualFold(ref.Target, title) {
			return
		}
		seen[key] = true
		refs = append(refs, ref)
	}
	for _, rk := range referenceKeys {
		for _, target := range extractList(fm, rk.key) {
			addRef(Reference{Target: target, Type: rk.relType})
		}
	}
	text, linked := bodyReferences(body)
	for _, ref := range linked {
		addRef(ref)
	}

	return &ParsedFile{
		RelativePath: relativePath,
		Title:        title,
		Content:      strings.TrimSpace(text),
		Type:         assetType,
		Category:     category,
		Tags:         mergeTags(extractList(fm, "tags"), extractInlineTags(body)),
		Public:       public,
		References:   refs,
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the Markdown body. Returns empty map and full text when no frontmatter found.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		// No closing delimiter - treat entire file as body.
		return map[string]interface{}{}, text, nil
	}

	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return nil, "", fmt.Errorf("invalid YAML: %w", err)
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n"), nil
}

// categoryFromPath returns the parent directory name, or "General" for files
// at the import root.
func categoryFromPath(rel string) string {
	dir := filepath.Dir(filepath.ToSlash(rel))
	if dir == "." || dir == "/" || dir == "" {
		return "General"
	}
	return titleFromPath(filepath.Base(dir))
}

// titleFromPath derives a human-readable title from the file name (no extension).
func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// extractH1 returns the text of the first ATX heading (# ...) found in the body.
func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// extractList reads a list-valued frontmatter key. Handles both YAML list
// and comma-separated string forms.
func extractList(fm map[string]interface{}, key string) []string {
	switch v := fm[key].(type) {
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// extractString pulls a string value from frontmatter by key with a default.
func extractString(fm map[string]interface{}, key, defaultVal string) string {
	if s, ok := fm[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return defaultVal
}

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// extractInlineTags finds #hashtag patterns in body text.
func extractInlineTags(body string) []string {
	var tags []string
	for _, m := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		tags = append(tags, strings.TrimSpace(m[1]))
	}
	return tags
}

// mergeTags combines two tag slices deduplicating by lowercase value.
func mergeTags(a, b []string) []string {
	return types.NormalizeTags(append(append([]string(nil), a...), b...))
}
