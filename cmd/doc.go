// Package cmd defines the feedharvest command line.
//
// The crawl command assembles one harvesting run from configuration:
//
//   - a Surface, either a chromedp-driven feed tab or a saved HTML snapshot;
//   - an Expander for truncated items (new tab, hidden iframe, plain HTTP
//     fetch through Colly, or none);
//   - a Checkpointer writing to a blob store (local disk, GCS, S3 or memory),
//     optionally mirrored into Postgres and announced on Pub/Sub;
//   - a progress Hub fanning run events out to zap, Prometheus and an
//     in-memory ring served by the admin API.
//
// The engine then scrolls until the feed stops yielding new records or the
// process receives SIGINT/SIGTERM, flushes a final checkpoint and prints the
// run summary.
package cmd
