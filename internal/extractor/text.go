package extractor

import "strings"

// ListingWindow trims listing page text to the part describing the item:
// everything before the first trail marker is kept, then everything up to
// and including the first lead marker is dropped. Empty markers are ignored.
func ListingWindow(text, lead, trail string) string {
	if trail != "" {
		if i := strings.Index(text, trail); i >= 0 {
			text = text[:i]
		}
	}
	if lead != "" {
		if i := strings.Index(text, lead); i >= 0 {
			text = text[i+len(lead):]
		}
	}
	return strings.TrimSpace(text)
}

// SellerWindow keeps the profile text after the last joined marker. Earlier
// occurrences can come from the seller's own about text.
func SellerWindow(text, joined string) string {
	if joined != "" {
		if i := strings.LastIndex(text, joined); i >= 0 {
			text = text[i+len(joined):]
		}
	}
	return strings.TrimSpace(text)
}

// HarvestImages keeps sources under cdnPrefix in encounter order, without
// duplicates, up to max entries.
func HarvestImages(sources []string, cdnPrefix string, max int) []string {
	if max <= 0 {
		return nil
	}
	out := make([]string, 0, max)
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if src == "" || !strings.HasPrefix(src, cdnPrefix) {
			continue
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
		if len(out) == max {
			break
		}
	}
	return out
}

var profileURLShapes = []string{
	"/marketplace/profile/",
	"/profile.php",
	"/user/",
	"profile_id=",
}

// IsProfileURL reports whether current looks like a seller profile page
// reached from listingURL.
func IsProfileURL(current, listingURL string) bool {
	for _, shape := range profileURLShapes {
		if strings.Contains(current, shape) {
			return true
		}
	}
	return strings.Contains(current, "id=") && current != listingURL
}
