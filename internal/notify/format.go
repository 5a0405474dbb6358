package notify

import "fmt"

// FormatAdded is the message sent when a torrent starts downloading.
func FormatAdded(itemTitle string) string {
	return fmt.Sprintf("Downloading: %s", itemTitle)
}

// FormatFeedFailure is the message sent when a whole feed run fails.
func FormatFeedFailure(feedTitle string, err error) string {
	return fmt.Sprintf("Failed to process %s feed: %v", feedTitle, err)
}
