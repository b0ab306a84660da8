package message

// MaxAttempts returns the retry ceiling declared on m, or DefaultMaxAttempts
// when none is set.
func MaxAttempts(m Message) int {
	if a, ok := GetAttribute[*MaxAttemptsAttribute](m); ok {
		return a.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Attempts returns the number of delivery attempts recorded on m.
func Attempts(m Message) int {
	if a, ok := GetAttribute[*AttemptsAttribute](m); ok {
		return a.Attempts
	}
	return 0
}

// IncrementAttempts records one more delivery attempt on m and returns the
// new count. An existing AttemptsAttribute is updated in place.
func IncrementAttempts(m Message) int {
	a, ok := GetAttribute[*AttemptsAttribute](m)
	if !ok {
		a = SetAttribute(m, &AttemptsAttribute{})
	}
	return a.Increment()
}
