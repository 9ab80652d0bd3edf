package depgraph

import (
	"context"
	"fmt"
	"io"
	"time"

	spdxjson "github.com/spdx/tools-golang/json"
	v2common "github.com/spdx/tools-golang/spdx/v2/common"
	"github.com/spdx/tools-golang/spdx/v2/v2_3"

	"github.com/chainlock/chainlock"
)

// Creator describes the creator of the SPDX document that will be produced
// from the encoding.
type Creator struct {
	// Creator is the value of the [Creator] relationship.
	Creator string
	// CreatorType should be one of "Person", "Organization", or "Tool".
	CreatorType string
}

// EncoderOption sets optional fields on the Encoder.
type EncoderOption func(*Encoder)

// WithDocumentName sets the SPDX document name field.
func WithDocumentName(name string) EncoderOption {
	return func(e *Encoder) { e.DocumentName = name }
}

// WithDocumentNamespace sets the SPDX document namespace field.
func WithDocumentNamespace(ns string) EncoderOption {
	return func(e *Encoder) { e.DocumentNamespace = ns }
}

// Encoder writes a resolved dependency graph as an SPDX v2.3 JSON document.
type Encoder struct {
	Creators          []Creator
	DocumentName      string
	DocumentNamespace string
}

// NewEncoder creates an Encoder with default values and applies the given
// options.
func NewEncoder(options ...EncoderOption) *Encoder {
	e := &Encoder{
		Creators: []Creator{
			{Creator: "chainlock", CreatorType: "Tool"},
		},
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Encode writes the SPDX rendition of g to w.
func (e *Encoder) Encode(ctx context.Context, w io.Writer, g *chainlock.Graph) error {
	doc, err := e.document(ctx, g)
	if err != nil {
		return err
	}
	return spdxjson.Write(doc, w)
}

func (e *Encoder) document(ctx context.Context, g *chainlock.Graph) (*v2_3.Document, error) {
	creators := make([]v2common.Creator, len(e.Creators))
	for i, c := range e.Creators {
		creators[i] = v2common.Creator{
			Creator:     c.Creator,
			CreatorType: c.CreatorType,
		}
	}
	out := &v2_3.Document{
		SPDXVersion:       v2_3.Version,
		DataLicense:       v2_3.DataLicense,
		SPDXIdentifier:    "DOCUMENT",
		DocumentName:      e.DocumentName,
		DocumentNamespace: e.DocumentNamespace,
		CreationInfo: &v2_3.CreationInfo{
			Creators: creators,
			Created:  time.Now().Format("2006-01-02T15:04:05Z"),
		},
	}

	ids := make(map[chainlock.NodeID]v2common.ElementID, g.Len())
	for _, n := range g.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := v2common.ElementID(fmt.Sprintf("Package-%d", n.ID))
		ids[n.ID] = id
		pkg := &v2_3.Package{
			PackageName:             n.Ref.Name,
			PackageSPDXIdentifier:   id,
			PackageVersion:          n.Ref.Version,
			PackageDownloadLocation: "NOASSERTION",
			PrimaryPackagePurpose:   "LIBRARY",
		}
		if purl := n.Ref.PURL(); purl != "" {
			pkg.PackageExternalReferences = []*v2_3.PackageExternalReference{{
				Category: "PACKAGE-MANAGER",
				RefType:  "purl",
				Locator:  purl,
			}}
		}
		out.Packages = append(out.Packages, pkg)
	}

	out.Relationships = append(out.Relationships, &v2_3.Relationship{
		RefA:         v2common.MakeDocElementID("", "DOCUMENT"),
		RefB:         v2common.MakeDocElementID("", string(ids[g.Root])),
		Relationship: "DESCRIBES",
	})
	for _, n := range g.Nodes {
		for _, name := range sortedChildren(n) {
			out.Relationships = append(out.Relationships, &v2_3.Relationship{
				RefA:         v2common.MakeDocElementID("", string(ids[n.ID])),
				RefB:         v2common.MakeDocElementID("", string(ids[n.Children[name]])),
				Relationship: "DEPENDS_ON",
			})
		}
	}
	return out, nil
}
