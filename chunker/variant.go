package chunker

import (
	"io"

	"github.com/loomvcs/loom/contenttype"
)

// Variant names which chunker implementation produced a file's cut
// sequence; recorded in the manifest's content-type tag per spec §4.3 so a
// reader knows whether container-aware forced cuts are part of this file's
// chunk identity.
type Variant string

const (
	VariantGeneric   Variant = "generic"
	VariantContainer Variant = "container"
)

// Select picks a variant for tag and, when container-aware parsing is
// enabled and applicable, attempts to compute forced cut offsets. On
// ErrMalformedContainer it reports VariantGeneric with a nil forced-cut
// list, matching spec §4.3: "the ingestion pipeline must fall back to the
// generic chunker and record the chosen variant in the manifest's
// content-type tag."
func Select(tag contenttype.Tag, containerAware bool, ra io.ReaderAt, size int64) (Variant, []int64, error) {
	if !containerAware || !tag.ContainerAware() {
		return VariantGeneric, nil, nil
	}

	cuts, err := ForceCutsISOBMFF(ra, size)
	if err != nil {
		return VariantGeneric, nil, nil
	}
	return VariantContainer, cuts, nil
}
