// Package model defines the domain types used across the application.
package model

// FeedSource is a configured feed and where its downloads go.
type FeedSource struct {
	Title       string
	URL         string
	Filters     []string
	DownloadDir string
}

// Enclosure is the optional attachment of a feed item.
type Enclosure struct {
	URL      string
	MIMEType string
}

// FeedItem is a raw item as parsed from a feed document.
type FeedItem struct {
	Title     string
	Link      string
	Enclosure *Enclosure
}

// ResolvedItem is a feed item whose resource has been fetched and identified.
type ResolvedItem struct {
	Title string
	// Resource is the reference submitted to the backend, normally a magnet URI.
	Resource string
	// Fingerprint is the lowercase hex info-hash of the resource.
	Fingerprint string
}

// OutcomeKind tags the result of a submission.
type OutcomeKind string

// Supported outcome kinds.
const (
	OutcomeAdded     OutcomeKind = "added"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of submitting one resource to the backend.
// Fingerprint is set for Added and Duplicate, Reason for Failed.
type Outcome struct {
	Kind        OutcomeKind
	Fingerprint string
	Name        string
	Reason      string
}

// Added builds an Added outcome.
func Added(fingerprint, name string) Outcome {
	return Outcome{Kind: OutcomeAdded, Fingerprint: fingerprint, Name: name}
}

// Duplicate builds a Duplicate outcome.
func Duplicate(fingerprint, name string) Outcome {
	return Outcome{Kind: OutcomeDuplicate, Fingerprint: fingerprint, Name: name}
}

// Failed builds a Failed outcome.
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// FeedResult is the terminal state of one feed run.
type FeedResult struct {
	Feed  FeedSource
	Added int
	Err   error
}
