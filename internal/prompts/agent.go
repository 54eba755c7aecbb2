package prompts

import "fmt"

// NoTextNudge is injected when the model ends its turn without any text
// and without requesting tools. It gives the model another round to
// answer.
const NoTextNudge = "Your last reply contained no text for the user. Reply now in plain text, or call a tool if you still need data."

// RoundCapAnswer is returned when a turn hits the round-trip cap before
// the model produced an answer.
func RoundCapAnswer(rounds int) string {
	return fmt.Sprintf("I wasn't able to complete that request within %d steps. "+
		"Please try rephrasing it or breaking it into smaller questions.", rounds)
}

// ModelUnavailableAnswer is returned when the model could not be reached
// after retries.
const ModelUnavailableAnswer = "The assistant is temporarily unavailable. Please try again in a moment."
