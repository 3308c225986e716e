package expand

import "context"

// Tab is an auxiliary top-level browsing context opened for one expansion.
type Tab interface {
	// Navigate loads url in the tab.
	Navigate(ctx context.Context, url string) error
	// Text returns the trimmed inner text of the first element matching
	// selector, or "" if nothing matches yet.
	Text(ctx context.Context, selector string) (string, error)
	// Closed reports whether the tab has gone away.
	Closed() bool
	// Close tears the tab down. It is safe to call more than once.
	Close()
}

// TabOpener creates auxiliary tabs.
type TabOpener interface {
	OpenTab(ctx context.Context) (Tab, error)
}
