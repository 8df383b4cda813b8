package store

// Status is the terminal outcome recorded for a processed video.
// Skip outcomes (live stream, too short) are intentionally never written,
// so those videos are picked up again on the next run.
type Status string

const (
	StatusSuccess                              Status = "SUCCESS"
	StatusVideoUnavailable                     Status = "VIDEO_UNAVAILABLE"
	StatusTranscriptsDisabled                  Status = "TRANSCRIPTS_DISABLED"
	StatusNoTranscriptFound                    Status = "NO_TRANSCRIPT_FOUND"
	StatusVideoUnplayable                      Status = "VIDEO_UNPLAYABLE"
	StatusIPBlocked                            Status = "IP_BLOCKED"
	StatusAudioFallbackFailed                  Status = "AUDIO_FALLBACK_FAILED"
	StatusTranscriptsDisabledFallbackSucceeded Status = "TRANSCRIPTS_DISABLED_FALLBACK_SUCCEEDED"
	StatusNoTranscriptFoundFallbackSucceeded   Status = "NO_TRANSCRIPT_FOUND_FALLBACK_SUCCEEDED"
)

// Provenance records how a transcript was obtained.
type Provenance string

const (
	ProvenanceCaptioned     Provenance = "captioned"
	ProvenanceAudioFallback Provenance = "audio_fallback"
)
