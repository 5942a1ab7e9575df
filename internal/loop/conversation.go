package loop

import (
	"context"
	"strings"

	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/events"
	"github.com/nugget/neoc/internal/extract"
	"github.com/nugget/neoc/internal/memory"
	"github.com/nugget/neoc/internal/prompts"
)

// converse handles one stimulus. The ego first decides between replying
// and observing. A reply is drafted by the conscious role, then
// validated and phrased by the ego. Once a reply has been decided on,
// at least one response event is always emitted.
func (l *Loop) converse(ctx context.Context, stimulus string) {
	l.appendTranscript(prompts.SpeakerUser, stimulus)
	history := l.transcript.Context()

	triage, ok := l.ask(ctx, config.RoleEgo, history, prompts.TriageMission(stimulus), false)
	if !ok || !wantsReply(triage) {
		l.observe(ctx, stimulus)
		return
	}

	l.logger.Debug("reply requested", "transcript_len", l.transcript.Len())

	draftRes, ok := l.ask(ctx, config.RoleConscious, history, subMission(triage, stimulus), true)
	draft := draftRes.Content()
	if !ok || draft == "" {
		l.logger.Warn("reply draft failed, sending fallback")
		l.respond(ctx, prompts.FallbackReply)
		return
	}

	final, ok := l.ask(ctx, config.RoleEgo, history, prompts.ValidateReplyMission(draft), false)
	if !ok {
		l.logger.Warn("reply validation failed, sending fallback")
		l.respond(ctx, prompts.FallbackReply)
		return
	}

	replies := replyContents(final)
	if len(replies) == 0 {
		l.logger.Warn("validated reply had no content, sending fallback")
		l.respond(ctx, prompts.FallbackReply)
		return
	}
	for _, r := range replies {
		l.respond(ctx, r)
	}
}

// observe notes a stimulus that needs no reply.
func (l *Loop) observe(ctx context.Context, stimulus string) {
	l.logger.Info("stimulus observed without reply")
	l.emit(events.CategoryConversation, "Observed without replying: "+stimulus)
	l.remember(ctx, stimulus, memory.KindObservation)
}

// respond emits a reply and records it in both memories.
func (l *Loop) respond(ctx context.Context, content string) {
	l.deps.Output.Push(events.Response(content))
	l.appendTranscript(prompts.SpeakerSelf, content)
	l.remember(ctx, content, memory.KindReply)
}

func (l *Loop) appendTranscript(speaker, content string) {
	l.transcript.Append(speaker, content)
	l.mu.Lock()
	l.status.Transcript = l.transcript.Len()
	l.mu.Unlock()
}

// wantsReply reports whether a triage response asks for a reply: either
// an "actions" list is present or the action is REPLY.
func wantsReply(r extract.Response) bool {
	if _, ok := r.Actions(); ok {
		return true
	}
	return strings.EqualFold(r.Action(), prompts.ActionReply)
}

// subMission picks the task handed to the conscious role: the first
// actions item, else the content, else the stimulus itself.
func subMission(triage extract.Response, stimulus string) string {
	if items, ok := triage.Actions(); ok && len(items) > 0 {
		if c := extract.ItemContent(items[0]); c != "" {
			return c
		}
	}
	if c := triage.Content(); c != "" {
		return c
	}
	return stimulus
}

// replyContents returns the non-empty contents of the validated reply:
// every actions item, or the single content when there are none.
func replyContents(final extract.Response) []string {
	var out []string
	if items, ok := final.Actions(); ok {
		for _, item := range items {
			if c := strings.TrimSpace(extract.ItemContent(item)); c != "" {
				out = append(out, c)
			}
		}
	}
	if len(out) == 0 {
		if c := strings.TrimSpace(final.Content()); c != "" {
			out = append(out, c)
		}
	}
	return out
}
