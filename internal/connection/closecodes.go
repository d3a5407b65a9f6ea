package connection

// closeReasons maps WebSocket close codes (1000-1015) to descriptive reasons.
var closeReasons = map[int]string{
	1000: "Normal Closure",
	1001: "Going Away",
	1002: "Protocol Error",
	1003: "Unsupported Data",
	1005: "No Status Received",
	1006: "Abnormal Closure",
	1007: "Invalid Payload",
	1008: "Policy Violation",
	1009: "Message Too Big",
	1010: "Missing Extension",
	1011: "Internal Error",
	1012: "Service Restart",
	1013: "Try Again Later",
	1014: "Bad Gateway",
	1015: "TLS Handshake Failed",
}

// CloseReason returns the descriptive reason for a close code.
// Unrecognized codes map to "Unknown".
func CloseReason(code int) string {
	if reason, ok := closeReasons[code]; ok {
		return reason
	}
	return "Unknown"
}
