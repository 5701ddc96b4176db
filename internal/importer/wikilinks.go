// Package importer loads a directory of Markdown files into the knowledge
// hub: one asset per file, with relationships declared in frontmatter or
// written as [[wiki links]].
package importer

import (
	"regexp"
	"strings"

	"github.com/romcoding/architex/pkg/types"
)

// assetLinkRe matches [[Asset Title]], [[Asset Title#Section]] and
// [[Asset Title|label]].
var assetLinkRe = regexp.MustCompile(`\[\[([^\[\]|#]+)(?:#[^\[\]|]*)?(?:\|([^\[\]]*))?\]\]`)

// bodyReferences renders the asset links in body as plain text and returns
// one COMPLEMENTS reference per link, in order of appearance. A link label
// replaces the link in the text and becomes the relationship description; a
// #section suffix only narrows where the reader lands, so it is dropped.
func bodyReferences(body string) (string, []Reference) {
	var (
		refs []Reference
		b    strings.Builder
		last int
	)
	for _, m := range assetLinkRe.FindAllStringSubmatchIndex(body, -1) {
		title := strings.TrimSpace(body[m[2]:m[3]])
		label := ""
		if m[4] >= 0 {
			label = strings.TrimSpace(body[m[4]:m[5]])
		}

		b.WriteString(body[last:m[0]])
		if label != "" {
			b.WriteString(label)
		} else {
			b.WriteString(title)
		}
		last = m[1]

		if title != "" {
			refs = append(refs, Reference{Target: title, Type: types.RelComplements, Note: label})
		}
	}
	b.WriteString(body[last:])
	return b.String(), refs
}
