package stt

import (
	"strings"
)

// errorClass is the error taxonomy spec.md §4.4.3 classifies each STT
// call into, grounded on the teacher's connection-vs-application error
// split in clients/broadcaster_remote.go and clients/manifest.go's
// retry helpers (DownloadRetryBackoff for connection-ish failures vs
// plain error propagation for everything else).
type errorClass int

const (
	classNonRetryable errorClass = iota
	classConnection
	classOtherRetryable
	classChunkTooLarge
	classDecode
)

var connectionPhrases = []string{
	"fetch failed",
	"connection reset",
	"connection refused",
	"econnreset",
	"timeout",
	"timed out",
	"dns",
	"eof",
	"no such host",
}

var decodePhrases = []string{
	"audio file could not be decoded",
	"format is not supported",
	"could not be decoded",
}

var otherRetryablePhrases = []string{
	"rate limit",
	"try again",
	"temporarily unavailable",
	"server_error",
	"service unavailable",
}

// classify decides which retry policy (if any) applies to one failed
// STT call, given its HTTP status code (0 for a transport-level error
// that never produced a response) and the lowercased response/error
// text.
func classify(statusCode int, message string) errorClass {
	lower := strings.ToLower(message)

	if statusCode == 413 {
		return classChunkTooLarge
	}
	if statusCode == 0 || statusCode == 408 || statusCode == 429 || statusCode >= 500 {
		return classConnection
	}
	if containsAny(lower, connectionPhrases) {
		return classConnection
	}
	if containsAny(lower, decodePhrases) {
		return classDecode
	}
	if containsAny(lower, otherRetryablePhrases) {
		return classOtherRetryable
	}
	return classNonRetryable
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
