// Package output provides JSON/YAML/styled output formatting and error handling.
package output

// Exit codes.
const (
	ExitOK             = 0 // Success
	ExitUsage          = 1 // Invalid arguments or flags
	ExitNotFound       = 2 // Resource not found
	ExitAuth           = 3 // Not authenticated
	ExitForbidden      = 4 // Access denied
	ExitRateLimit      = 5 // Rate limited (429)
	ExitNetwork        = 6 // Connection/DNS/timeout error
	ExitAPI            = 7 // Server returned error
	ExitSessionExpired = 8 // Refresh failed, log in again
	ExitStore          = 9 // Credential storage unreadable or locked
)

// Error codes for JSON envelope.
const (
	CodeUsage          = "usage"
	CodeNotFound       = "not_found"
	CodeAuth           = "auth_required"
	CodeForbidden      = "forbidden"
	CodeRateLimit      = "rate_limit"
	CodeNetwork        = "network"
	CodeAPI            = "api_error"
	CodeSessionExpired = "session_expired"
	CodeStore          = "credential_store"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork:
		return ExitNetwork
	case CodeSessionExpired:
		return ExitSessionExpired
	case CodeStore:
		return ExitStore
	default:
		return ExitAPI
	}
}
