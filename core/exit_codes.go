package core

// Process exit codes.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeConfig means the gateway refused to start because its
	// configuration or startup checks failed.
	ExitCodeConfig = 2
)

// ExitCodeName returns a readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeConfig:
		return "configuration error"
	default:
		return "unknown"
	}
}
