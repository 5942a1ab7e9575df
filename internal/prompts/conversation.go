package prompts

import "fmt"

// Markers the roles use in their "action" field.
const (
	ActionReply        = "REPLY"
	ActionObserve      = "OBSERVE"
	ActionGenerateIdea = "GENERATE_IDEA"
)

// FallbackReply is sent when a reply was decided on but could not be
// produced.
const FallbackReply = "I'm sorry, I had trouble putting my reply together."

// Speaker labels for the short-term transcript.
const (
	SpeakerUser = "User"
	SpeakerSelf = "NeoC"
)

// TriageMission asks the ego whether a stimulus needs a reply.
func TriageMission(stimulus string) string {
	return fmt.Sprintf("The user said: '%s'. Analyze the context and decide whether a reply is needed ('%s') or whether it should only be observed ('%s').",
		stimulus, ActionReply, ActionObserve)
}

// ValidateReplyMission asks the ego to validate and phrase the
// conscious role's draft for the user.
func ValidateReplyMission(draft string) string {
	return fmt.Sprintf("The conscious role proposed this reply: '%s'. Validate it and phrase it for the user. You may add follow-up content as additional items in \"actions\".", draft)
}
