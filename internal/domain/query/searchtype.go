package query

// SearchType selects the retriever variant.
type SearchType string

// Search type constants.
const (
	// Image retrieves frames by visual content (dense only).
	Image SearchType = "image"
	// Text retrieves frames by OCR transcript (dense + sparse).
	Text SearchType = "text"
)

// IsValid checks if the search type is one of the supported values.
func (t SearchType) IsValid() bool {
	return t == Image || t == Text
}
