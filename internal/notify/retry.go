package notify

// shouldRetry decides whether a failed delivery attempt is retried
func shouldRetry(attempt, maxAttempts, statusCode int, err error) bool {
	if attempt >= maxAttempts {
		return false
	}

	// network error
	if err != nil && statusCode == 0 {
		return true
	}

	switch {
	case statusCode == 429:
		return true
	case statusCode >= 500 && statusCode < 600:
		return true
	case statusCode >= 400 && statusCode < 500:
		return false
	case statusCode >= 300:
		return true
	}

	return false
}
