// Package crawler implements the incremental feed harvesting engine: the
// scroll-driven crawl loop, the collection pass, the record extractor with
// its expansion guard, the dedup index, checkpointing and run statistics.
//
// The engine is constructed once per run. It owns the dedup index and the
// set of attempted expansions, drives a Surface (a live browser tab or an
// offline snapshot) and hands truncated items to an Expander selected by
// configuration.
package crawler
