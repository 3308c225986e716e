// Package progress carries run milestones from the crawl engine to
// observers. The engine emits one Event per pass, checkpoint and run
// boundary; a Hub queues them without blocking the scroll loop and hands
// batches to sinks such as logs, Prometheus or the admin API's event ring.
package progress
