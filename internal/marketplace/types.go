// Package marketplace defines the types and collaborator contracts shared by
// the scraping pipeline.
package marketplace

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxImages caps the number of image URLs kept per listing.
const MaxImages = 3

// VehicleHint is a best-effort make/year guess taken from listing text.
type VehicleHint struct {
	Make string `json:"make,omitempty" bson:"make,omitempty"`
	Year int    `json:"year,omitempty" bson:"year,omitempty"`
}

// ListingRecord is the normalized document persisted for each listing.
type ListingRecord struct {
	ID                   int64        `json:"publication_id" bson:"publication_id"`
	ListingText          string       `json:"publicationText" bson:"publicationText"`
	SellerText           string       `json:"dealershipBody" bson:"dealershipBody"`
	SellerProfileReached bool         `json:"profileNavigationSuccess" bson:"profileNavigationSuccess"`
	ImageURLs            []string     `json:"images" bson:"images"`
	ScrapedAt            time.Time    `json:"scraped_at" bson:"scraped_at"`
	RegionCode           string       `json:"city_code" bson:"city_code"`
	ListingURL           string       `json:"publication_link" bson:"publication_link"`
	OwnerID              string       `json:"userId,omitempty" bson:"userId,omitempty"`
	Vehicle              *VehicleHint `json:"vehicle,omitempty" bson:"vehicle,omitempty"`
}

// Key returns the document store key for the record.
func (r ListingRecord) Key() string {
	return strconv.FormatInt(r.ID, 10)
}

// ParseItemID converts an item id string into its positive integer form.
func ParseItemID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidItemID, raw)
	}
	return id, nil
}

// Link is one collected item id with its detail page URL.
type Link struct {
	ID  string
	URL string
}

// LinkTable holds unique item ids in collection order, bounded by a limit.
type LinkTable struct {
	limit int
	order []string
	urls  map[string]string
}

// NewLinkTable creates a table that accepts at most limit entries.
func NewLinkTable(limit int) *LinkTable {
	if limit < 0 {
		limit = 0
	}
	return &LinkTable{
		limit: limit,
		urls:  make(map[string]string),
	}
}

// Add inserts the id if it is new and the table is not full.
func (t *LinkTable) Add(id, url string) bool {
	if id == "" || t.Full() {
		return false
	}
	if _, ok := t.urls[id]; ok {
		return false
	}
	t.urls[id] = url
	t.order = append(t.order, id)
	return true
}

// Contains reports whether id was collected.
func (t *LinkTable) Contains(id string) bool {
	_, ok := t.urls[id]
	return ok
}

// Len returns the number of collected ids.
func (t *LinkTable) Len() int {
	return len(t.order)
}

// Full reports whether the table reached its limit.
func (t *LinkTable) Full() bool {
	return len(t.order) >= t.limit
}

// Links returns the entries in collection order.
func (t *LinkTable) Links() []Link {
	out := make([]Link, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, Link{ID: id, URL: t.urls[id]})
	}
	return out
}

// JobStatus is the lifecycle state reported to the coordinator.
type JobStatus string

// Job status values understood by the coordinator.
const (
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one region assignment.
type Job struct {
	JobID    string `json:"jobId"`
	City     string `json:"city"`
	State    string `json:"state"`
	IsNewJob bool   `json:"isNewJob"`
	// Threshold overrides the configured per-job listing target when > 0.
	Threshold int `json:"-"`
}

// JobResult aggregates the per-item outcomes of one job.
type JobResult struct {
	ListingsFound     int
	NewListingsAdded  int
	DuplicatesSkipped int
	Failed            int
	Duration          time.Duration
}

// DurationSeconds returns the job duration in seconds.
func (r JobResult) DurationSeconds() float64 {
	return r.Duration.Seconds()
}
