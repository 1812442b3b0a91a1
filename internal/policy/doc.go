// Package policy implements the retention decision for candidate
// encodings: which conversions are worth keeping, given the original
// size and the configured savings thresholds.
//
// Everything here is a pure function of its inputs. The same tie-break
// used at decision time (smallest size, then format priority) is exposed
// via Best for the serve-time negotiator.
package policy
