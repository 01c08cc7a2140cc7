package inventory

// ErrorKind is the coarse classification reported for a failed job.
type ErrorKind string

const (
	// KindValidation covers caller-correctable failures: missing options,
	// incomplete or malformed credentials, denied permissions, duplicate keys.
	KindValidation ErrorKind = "validation"

	// KindUnexpected covers everything else: network failures, unforeseen
	// upstream response shapes, defects.
	KindUnexpected ErrorKind = "unexpected"
)

// UnexpectedPrefix is prepended to the message of unexpected failures.
const UnexpectedPrefix = "Unexpected error: "

// ErrorDescriptor is the reported failure of one job.
type ErrorDescriptor struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
