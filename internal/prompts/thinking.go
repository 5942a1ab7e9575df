package prompts

import "fmt"

// Fixed strings used by the think-step.
const (
	// DefaultNextMission is used when the ego answers without content.
	DefaultNextMission = "Continue the reflection."

	// FallbackMission is used when the ego call fails or its output
	// cannot be decoded.
	FallbackMission = "Reflect on a random aspect of philosophy."

	// ResumeThought replaces the current thought after a stimulus has
	// been handled.
	ResumeThought = "Resume reflection after the interaction."
)

// NextStepMission asks the ego to turn the last thought into a task for
// the conscious role.
func NextStepMission(thought string) string {
	return fmt.Sprintf("The last thought was: '%s'. Based on it, formulate the next logical step as a task for the conscious role.", thought)
}

// AnalyzeMission asks the subconscious to analyze a thought. It may
// answer with action GENERATE_IDEA to queue an idea.
func AnalyzeMission(thought string) string {
	return fmt.Sprintf("Analyze this thought: '%s'", thought)
}
