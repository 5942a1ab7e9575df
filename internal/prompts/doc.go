// Package prompts contains the prompt templates NeoC sends to its three
// reasoning roles.
//
// Prompt text is Go code rather than config files because it is program
// logic: missions use fmt.Sprintf interpolation and are validated by
// tests. Role personas live in the directive files (see
// internal/directives); this package holds the envelope every prompt is
// wrapped in and the missions the loop hands to each role.
//
// Convention: each prompt category gets its own file (compose.go,
// thinking.go, conversation.go) with exported functions that accept the
// dynamic parts and return the fully interpolated string.
package prompts
