package agent

import (
	"fmt"
	"path/filepath"
	"strings"

	"ragchat/types"
)

const unpinpointedNote = "exact source could not be pinpointed"

// CitationResolver turns chunk metadata into links under Base, which is expected to
// serve one PDF per year such as Base+"1992.pdf".
type CitationResolver struct {
	Base string
}

func NewCitationResolver(base string) CitationResolver {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return CitationResolver{Base: base}
}

// ResolveCitation looks for a year in the chunk's stored year, its source file name, its
// content and finally the question, in that order. Without a year the citation points to
// the base location and says so.
func (r CitationResolver) ResolveCitation(meta types.ChunkMeta, question string) types.CitationRef {
	ref := types.CitationRef{Source: meta.Source}
	if meta.Source != "" {
		idx := meta.ChunkIndex
		ref.ChunkIndex = &idx
	}

	year := meta.Year
	for _, candidate := range []string{filepath.Base(meta.Source), meta.Content, question} {
		if year != nil {
			break
		}
		year = types.ExtractYear(candidate)
	}

	if year == nil {
		ref.Title = documentTitle(meta.Source)
		ref.Link = r.Base
		ref.Note = unpinpointedNote
		return ref
	}

	ref.Year = year
	ref.Title = fmt.Sprintf("%d Shareholder Letter", *year)
	ref.Link = fmt.Sprintf("%s%d.pdf", r.Base, *year)
	ref.Pinpointed = true
	return ref
}

// Citations resolves every retrieved chunk, dropping repeats of the same source chunk.
func (r CitationResolver) Citations(results []types.RetrievalResult, question string) []types.CitationRef {
	type key struct {
		source string
		index  int
	}
	seen := make(map[key]struct{}, len(results))
	refs := make([]types.CitationRef, 0, len(results))
	for _, res := range results {
		k := key{res.Meta.Source, res.Meta.ChunkIndex}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		refs = append(refs, r.ResolveCitation(res.Meta, question))
	}
	return refs
}

// withModelSources appends the sources named by the model that point at a year not
// already cited.
func (r CitationResolver) withModelSources(refs []types.CitationRef, sources []string) []types.CitationRef {
	links := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		links[ref.Link] = struct{}{}
	}
	for _, s := range sources {
		y := types.ExtractYear(s)
		if y == nil {
			continue
		}
		ref := r.ResolveCitation(types.ChunkMeta{Year: y}, "")
		if _, dup := links[ref.Link]; dup {
			continue
		}
		ref.Title = strings.TrimSpace(s)
		links[ref.Link] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

func documentTitle(source string) string {
	if source == "" {
		return "Shareholder Letters"
	}
	return types.DocumentTitle(source)
}
