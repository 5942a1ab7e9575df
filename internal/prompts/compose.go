package prompts

import "strings"

// Compose builds a role prompt. The parts are newline-separated in a
// fixed order: the directive, the CONTEXT block, the IDEA block, and the
// MISSION block. The IDEA block is emitted only when withIdea is true;
// the other wrappers are always emitted, even around empty text.
func Compose(directive, context, idea, mission string, withIdea bool) string {
	var b strings.Builder
	b.WriteString(directive)
	b.WriteString("\n<CONTEXT>")
	b.WriteString(context)
	b.WriteString("</CONTEXT>\n")
	if withIdea {
		b.WriteString("<IDEA>")
		b.WriteString(idea)
		b.WriteString("</IDEA>\n")
	}
	b.WriteString("<MISSION>")
	b.WriteString(mission)
	b.WriteString("</MISSION>")
	return b.String()
}
