package config

const (
	// MaxDocumentTitleLength matches the VARCHAR(255) title column.
	MaxDocumentTitleLength = 255

	// MaxDocumentContentLength caps a single revision body (1 MiB).
	MaxDocumentContentLength = 1 << 20

	// DefaultRevisionPageSize is used when the client sends no limit.
	DefaultRevisionPageSize = 20

	// MaxRevisionPageSize bounds a single revisions page.
	MaxRevisionPageSize = 100

	// MaxTagsPerRevision bounds what the tagger will persist for one revision.
	MaxTagsPerRevision = 20

	// MaxTagNameLength matches the VARCHAR(100) tag name column.
	MaxTagNameLength = 100

	// MaxSummaryInputChars truncates content sent to the summarizer model.
	MaxSummaryInputChars = 24000

	// MaxFailureReasonLength truncates reasons carried on event.ai.failed.
	MaxFailureReasonLength = 1000
)
