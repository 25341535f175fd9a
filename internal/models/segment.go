package models

// Segment represents a media segment listed by a live segment list.
// This struct is shared by the playlist client and the capture engine.
type Segment struct {
	// ID is the raw segment-list line. It is the deduplication identity, so a
	// changed query string makes a new segment.
	ID string
	// URL is the segment base URL followed by ID.
	URL string
}
