package marketplace

import (
	"context"
	"io"
	"time"
)

// Session is a handle on the live browser tab. Handles are bound to the
// browser generation they were issued for.
type Session interface {
	Generation() uint64
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	ScrollToBottom(ctx context.Context) error
	ScrollBy(ctx context.Context, pixels int) error
	// Hrefs returns the href of every element matching the CSS selector.
	Hrefs(ctx context.Context, selector string) ([]string, error)
	PageText(ctx context.Context) (string, error)
	Exists(ctx context.Context, xpath string) (bool, error)
	Click(ctx context.Context, xpath string) error
	ScriptClick(ctx context.Context, xpath string) error
	// ImageSources returns the src of every element matching the XPath.
	ImageSources(ctx context.Context, xpath string) ([]string, error)
}

// SessionProvider owns the browser and hands out session handles.
type SessionProvider interface {
	Session() Session
	RestartDue() bool
	Restart(ctx context.Context) error
	Close() error
}

// DocumentStore is the shared keyed store used for deduplication.
type DocumentStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, record ListingRecord) error
	Close(ctx context.Context) error
}

// BlobStore writes image bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes listing events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// JobSource hands out jobs and receives status transitions.
type JobSource interface {
	// NextJob returns false when no job is available.
	NextJob(ctx context.Context) (Job, bool, error)
	ReportInProgress(ctx context.Context, job Job) error
	ReportCompleted(ctx context.Context, job Job, result JobResult) error
	ReportFailed(ctx context.Context, job Job, message string) error
}

// Notifier raises operator alerts for job-level and fatal failures.
type Notifier interface {
	Alert(ctx context.Context, context string, err error) error
}

// Clock tells time and paces the pipeline. Sleep returns early with the
// context error when ctx is done.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
