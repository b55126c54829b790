// Package extractor reads one marketplace listing, and the seller profile
// behind it, into a marketplace.ListingRecord.
package extractor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
	"github.com/JakeFAU/marketplace-scraper/internal/vehicle"
)

// Step names recorded in the extraction report.
const (
	StepPageLoad      = "page-load"
	StepSeeMore       = "see-more"
	StepListingText   = "listing-text"
	StepProfileLink   = "profile-link"
	StepProfileNav    = "profile-navigation"
	StepSellerText    = "seller-text"
	StepImages        = "images"
	StepImageDownload = "image-download"
)

const seeMorePollInterval = 250 * time.Millisecond

// Config controls waits, markers and selectors.
type Config struct {
	PageLoadDelay       time.Duration
	SeeMoreWait         time.Duration
	SeeMoreXPath        string
	ProfileRetries      int
	ProfileRetryScroll  int
	ProfileRetryDelay   time.Duration
	ProfilePollAttempts int
	ProfilePollInterval time.Duration
	ProfileSettleDelay  time.Duration
	ImageReloadDelay    time.Duration
	LeadMarker          string
	TrailMarker         string
	JoinedMarker        string
	ImageXPath          string
	CDNPrefix           string
	MaxImages           int
	// ListingURLFormat builds the canonical listing link from the item id.
	ListingURLFormat string
	OwnerID          string
}

// ImageDownloader persists harvested images and returns how many were stored.
type ImageDownloader interface {
	Download(ctx context.Context, itemID int64, urls []string) int
}

// Request names the listing to extract.
type Request struct {
	ItemID         string
	DetailURL      string
	RegionCode     string
	DownloadImages bool
}

// Extractor turns listing pages into records.
type Extractor struct {
	cfg        Config
	probes     *ProbeSet
	downloader ImageDownloader
	clock      marketplace.Clock
	logger     *zap.Logger
}

// New creates an Extractor. A nil probe set uses DefaultProfileProbes.
func New(
	cfg Config,
	probes *ProbeSet,
	downloader ImageDownloader,
	clock marketplace.Clock,
	logger *zap.Logger,
) *Extractor {
	if probes == nil {
		probes = DefaultProfileProbes()
	}
	if cfg.MaxImages <= 0 || cfg.MaxImages > marketplace.MaxImages {
		cfg.MaxImages = marketplace.MaxImages
	}
	if cfg.ProfilePollAttempts <= 0 {
		cfg.ProfilePollAttempts = 10
	}
	if cfg.ListingURLFormat == "" {
		cfg.ListingURLFormat = "https://www.facebook.com/marketplace/item/%d/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, probes: probes, downloader: downloader, clock: clock, logger: logger}
}

// Probes exposes the profile link strategies for tuning.
func (e *Extractor) Probes() *ProbeSet {
	return e.probes
}

// Extract visits the listing and returns the record with a per-step report.
// Only an invalid id, a failed initial load, an unreadable listing page or a
// browser session error fail the extraction; everything else degrades it.
func (e *Extractor) Extract(
	ctx context.Context,
	sess marketplace.Session,
	req Request,
) (marketplace.ListingRecord, marketplace.ExtractionReport, error) {
	var report marketplace.ExtractionReport
	fail := func(step string, err error) (marketplace.ListingRecord, marketplace.ExtractionReport, error) {
		report.Record(step, marketplace.StepFailed, "", err)
		metrics.ObserveExtraction(string(marketplace.StepFailed))
		return marketplace.ListingRecord{}, report, &marketplace.ExtractionFailure{ItemID: req.ItemID, Cause: err}
	}

	id, err := marketplace.ParseItemID(req.ItemID)
	if err != nil {
		return fail(StepPageLoad, err)
	}
	listingURL := fmt.Sprintf(e.cfg.ListingURLFormat, id)
	detailURL := req.DetailURL
	if detailURL == "" {
		detailURL = listingURL
	}
	logger := e.logger.With(zap.Int64("item_id", id))

	if err := sess.Navigate(ctx, detailURL); err != nil {
		return fail(StepPageLoad, err)
	}
	if err := e.clock.Sleep(ctx, e.cfg.PageLoadDelay); err != nil {
		return fail(StepPageLoad, err)
	}
	report.Record(StepPageLoad, marketplace.StepOK, "", nil)

	if err := e.expandDescription(ctx, sess, &report); err != nil {
		return fail(StepSeeMore, err)
	}

	pageText, err := sess.PageText(ctx)
	if err != nil {
		return fail(StepListingText, err)
	}
	listingText := ListingWindow(pageText, e.cfg.LeadMarker, e.cfg.TrailMarker)
	report.Record(StepListingText, marketplace.StepOK, fmt.Sprintf("%d chars", len(listingText)), nil)

	record := marketplace.ListingRecord{
		ID:          id,
		ListingText: listingText,
		ImageURLs:   []string{},
		ScrapedAt:   e.clock.Now(),
		RegionCode:  req.RegionCode,
		ListingURL:  listingURL,
		OwnerID:     e.cfg.OwnerID,
		Vehicle:     vehicle.Detect(listingText),
	}

	reached, err := e.visitProfile(ctx, sess, &report)
	if err != nil {
		return fail(StepProfileNav, err)
	}
	if !reached {
		report.Record(StepSellerText, marketplace.StepSkipped, "profile not reached", nil)
		report.Record(StepImages, marketplace.StepSkipped, "profile not reached", nil)
	} else {
		sellerText, ok, err := e.readSeller(ctx, sess, &report)
		if err != nil {
			return fail(StepSellerText, err)
		}
		if !ok {
			report.Record(StepImages, marketplace.StepSkipped, "seller text unreadable", nil)
		} else {
			record.SellerProfileReached = true
			record.SellerText = sellerText

			images, err := e.harvestImages(ctx, sess, detailURL, id, req.DownloadImages, &report)
			if err != nil {
				return fail(StepImages, err)
			}
			record.ImageURLs = images
		}
	}

	outcome := marketplace.StepOK
	if report.Degraded() {
		outcome = marketplace.StepDegraded
	}
	metrics.ObserveExtraction(string(outcome))
	logger.Info("listing extracted",
		zap.Bool("profile_reached", record.SellerProfileReached),
		zap.Int("images", len(record.ImageURLs)),
		zap.String("outcome", string(outcome)),
	)
	return record, report, nil
}

// expandDescription clicks the "see more" control when it shows up.
func (e *Extractor) expandDescription(ctx context.Context, sess marketplace.Session, report *marketplace.ExtractionReport) error {
	if e.cfg.SeeMoreXPath == "" {
		report.Record(StepSeeMore, marketplace.StepSkipped, "not configured", nil)
		return nil
	}
	found, err := e.waitFor(ctx, sess, e.cfg.SeeMoreXPath, e.cfg.SeeMoreWait)
	if err != nil {
		if marketplace.IsSessionError(err) || ctx.Err() != nil {
			return err
		}
		report.Record(StepSeeMore, marketplace.StepDegraded, "lookup failed", err)
		return nil
	}
	if !found {
		report.Record(StepSeeMore, marketplace.StepSkipped, "absent", nil)
		return nil
	}
	detail, err := e.click(ctx, sess, e.cfg.SeeMoreXPath)
	if err != nil {
		if marketplace.IsSessionError(err) {
			return err
		}
		report.Record(StepSeeMore, marketplace.StepDegraded, "click failed", err)
		return nil
	}
	report.Record(StepSeeMore, marketplace.StepOK, detail, nil)
	return nil
}

// visitProfile finds and opens the seller profile. It returns an error only
// when the session itself is unusable.
func (e *Extractor) visitProfile(ctx context.Context, sess marketplace.Session, report *marketplace.ExtractionReport) (bool, error) {
	probe, found, err := e.findProfileLink(ctx, sess)
	if err != nil && (marketplace.IsSessionError(err) || ctx.Err() != nil) {
		return false, err
	}
	if !found {
		if err != nil {
			report.Record(StepProfileLink, marketplace.StepDegraded, "lookup failed", err)
		} else {
			report.Record(StepProfileLink, marketplace.StepSkipped, "no profile link", nil)
		}
		report.Record(StepProfileNav, marketplace.StepSkipped, "", nil)
		return false, nil
	}
	report.Record(StepProfileLink, marketplace.StepOK, probe.Name, nil)

	before, err := sess.CurrentURL(ctx)
	if err != nil {
		if marketplace.IsSessionError(err) {
			return false, err
		}
		before = ""
	}
	if _, err := e.click(ctx, sess, probe.XPath); err != nil {
		if marketplace.IsSessionError(err) {
			return false, err
		}
		report.Record(StepProfileNav, marketplace.StepDegraded, "click failed", err)
		return false, nil
	}

	for attempt := 1; attempt <= e.cfg.ProfilePollAttempts; attempt++ {
		if err := e.clock.Sleep(ctx, e.cfg.ProfilePollInterval); err != nil {
			return false, err
		}
		current, err := sess.CurrentURL(ctx)
		if err != nil {
			if marketplace.IsSessionError(err) {
				return false, err
			}
			continue
		}
		if IsProfileURL(current, before) {
			report.Record(StepProfileNav, marketplace.StepOK, fmt.Sprintf("attempt %d", attempt), nil)
			return true, nil
		}
	}
	report.Record(StepProfileNav, marketplace.StepDegraded, "profile page not reached", nil)
	return false, nil
}

func (e *Extractor) findProfileLink(ctx context.Context, sess marketplace.Session) (Probe, bool, error) {
	var lastErr error
	for round := 0; round <= e.cfg.ProfileRetries; round++ {
		probe, found, err := e.probes.Find(ctx, sess)
		if found {
			return probe, true, nil
		}
		if err != nil && marketplace.IsSessionError(err) {
			return Probe{}, false, err
		}
		lastErr = err
		if round == e.cfg.ProfileRetries {
			break
		}
		if err := sess.ScrollBy(ctx, e.cfg.ProfileRetryScroll); err != nil && marketplace.IsSessionError(err) {
			return Probe{}, false, err
		}
		if err := e.clock.Sleep(ctx, e.cfg.ProfileRetryDelay); err != nil {
			return Probe{}, false, err
		}
	}
	return Probe{}, false, lastErr
}

// readSeller captures the profile text. ok is false when the page could not
// be read; the profile then counts as not reached.
func (e *Extractor) readSeller(
	ctx context.Context,
	sess marketplace.Session,
	report *marketplace.ExtractionReport,
) (text string, ok bool, err error) {
	if err := e.clock.Sleep(ctx, e.cfg.ProfileSettleDelay); err != nil {
		return "", false, err
	}
	page, err := sess.PageText(ctx)
	if err != nil {
		if marketplace.IsSessionError(err) || ctx.Err() != nil {
			return "", false, err
		}
		report.Record(StepSellerText, marketplace.StepDegraded, "read failed", err)
		return "", false, nil
	}
	seller := SellerWindow(page, e.cfg.JoinedMarker)
	report.Record(StepSellerText, marketplace.StepOK, fmt.Sprintf("%d chars", len(seller)), nil)
	return seller, true, nil
}

func (e *Extractor) harvestImages(
	ctx context.Context,
	sess marketplace.Session,
	detailURL string,
	id int64,
	download bool,
	report *marketplace.ExtractionReport,
) ([]string, error) {
	if err := sess.Navigate(ctx, detailURL); err != nil {
		if marketplace.IsSessionError(err) {
			return nil, err
		}
		report.Record(StepImages, marketplace.StepDegraded, "reload failed", err)
		return []string{}, nil
	}
	if err := e.clock.Sleep(ctx, e.cfg.ImageReloadDelay); err != nil {
		return nil, err
	}
	sources, err := sess.ImageSources(ctx, e.cfg.ImageXPath)
	if err != nil {
		if marketplace.IsSessionError(err) {
			return nil, err
		}
		report.Record(StepImages, marketplace.StepDegraded, "query failed", err)
		return []string{}, nil
	}
	images := HarvestImages(sources, e.cfg.CDNPrefix, e.cfg.MaxImages)
	report.Record(StepImages, marketplace.StepOK, fmt.Sprintf("%d of %d", len(images), len(sources)), nil)

	if download && e.downloader != nil && len(images) > 0 {
		stored := e.downloader.Download(ctx, id, images)
		status := marketplace.StepOK
		if stored < len(images) {
			status = marketplace.StepDegraded
		}
		report.Record(StepImageDownload, status, fmt.Sprintf("%d of %d stored", stored, len(images)), nil)
	}
	return images, nil
}

// waitFor polls for xpath until it exists or wait elapses. A zero wait
// checks once.
func (e *Extractor) waitFor(ctx context.Context, sess marketplace.Session, xpath string, wait time.Duration) (bool, error) {
	deadline := e.clock.Now().Add(wait)
	for {
		found, err := sess.Exists(ctx, xpath)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
		if !e.clock.Now().Before(deadline) {
			return false, nil
		}
		if err := e.clock.Sleep(ctx, seeMorePollInterval); err != nil {
			return false, err
		}
	}
}

// click tries a real click first and falls back to a script click.
func (e *Extractor) click(ctx context.Context, sess marketplace.Session, xpath string) (string, error) {
	err := sess.Click(ctx, xpath)
	if err == nil {
		return "click", nil
	}
	if marketplace.IsSessionError(err) {
		return "", err
	}
	if scriptErr := sess.ScriptClick(ctx, xpath); scriptErr != nil {
		return "", fmt.Errorf("click: %w; script click: %w", err, scriptErr)
	}
	return "script click", nil
}
