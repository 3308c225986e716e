// Package expand holds the pieces shared by content-expansion backends: the
// bounded polling state machine used while waiting for an auxiliary surface
// to render, and the disabled backend.
//
// Concrete backends live in subpackages: newtab opens the permalink in a new
// browser target, frame loads it in a hidden iframe of the feed tab and
// collyexpander fetches the markup directly.
package expand
