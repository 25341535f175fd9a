package playlist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"lecrec/internal/models"
)

// DefaultSegmentSuffix selects the lines of a segment list that name segments.
const DefaultSegmentSuffix = ".ts"

// ErrNoSegmentList is returned when a manifest has no non-comment line.
var ErrNoSegmentList = errors.New("manifest does not reference a segment list")

// Stream is a resolved live stream.
type Stream struct {
	ManifestURL    string
	SegmentListURL string
	// SegmentBaseURL is SegmentListURL up to and including its last '/'.
	SegmentBaseURL string
}

// SegmentURL joins the base URL and a raw segment-list line.
func (s Stream) SegmentURL(id string) string {
	return s.SegmentBaseURL + id
}

// Segments turns ids into segments of this stream.
func (s Stream) Segments(ids []string) []models.Segment {
	out := make([]models.Segment, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Segment{ID: id, URL: s.SegmentURL(id)})
	}
	return out
}

// Resolve fetches the top-level manifest and derives the segment list it names.
func (c *Client) Resolve(ctx context.Context, manifestURL string) (Stream, error) {
	text, finalURL, err := c.FetchText(ctx, manifestURL)
	if err != nil {
		return Stream{}, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	ref, ok := FirstURI(text)
	if !ok {
		return Stream{}, fmt.Errorf("%w: %s", ErrNoSegmentList, manifestURL)
	}
	listURL, err := resolveReference(finalURL, ref)
	if err != nil {
		return Stream{}, fmt.Errorf("failed to resolve segment list %q: %w", ref, err)
	}

	c.logger.Debugf("Resolved manifest %s to segment list %s", manifestURL, listURL)
	return Stream{
		ManifestURL:    manifestURL,
		SegmentListURL: listURL,
		SegmentBaseURL: BaseURL(listURL),
	}, nil
}

// Lines splits playlist text, dropping carriage returns.
func Lines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")
}

// FirstURI returns the first line that is neither empty nor a '#' comment.
func FirstURI(text string) (string, bool) {
	for _, line := range Lines(text) {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, true
	}
	return "", false
}

// SegmentIDs returns, in list order, the lines that name segments ending in suffix.
func SegmentIDs(text, suffix string) []string {
	if suffix == "" {
		suffix = DefaultSegmentSuffix
	}
	var ids []string
	for _, line := range Lines(text) {
		if line == "" || strings.HasPrefix(line, "#") || !strings.HasSuffix(line, suffix) {
			continue
		}
		ids = append(ids, line)
	}
	return ids
}

// BaseURL returns u up to and including the last '/'.
func BaseURL(u string) string {
	return u[:strings.LastIndex(u, "/")+1]
}

// resolveReference leaves absolute references untouched and resolves relative
// ones against the manifest location.
func resolveReference(base, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base '%s': %w", base, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
