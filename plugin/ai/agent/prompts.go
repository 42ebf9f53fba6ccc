package agent

import (
	"strings"

	"github.com/evahq/eva/store"
)

const basePrompt = "You are Eva, a thoughtful personal assistant. Be direct, warm, and concrete. " +
	"Use the available tools when they genuinely help with the request."

var modePrompts = map[string]string{
	store.ModeAssistant: "Act as a capable all-round assistant: handle tasks end to end and report what you did.",
	store.ModeCoach:     "Act as a supportive coach: ask clarifying questions, set small goals, and encourage follow-through.",
	store.ModeTutor:     "Act as a patient tutor: explain step by step, check understanding, and adapt to the user's level.",
	store.ModeAdvisor:   "Act as a pragmatic advisor: weigh options, state trade-offs, and give a clear recommendation.",
	store.ModeFriend:    "Act as a close friend: keep it casual, listen first, and skip the formalities.",
	store.ModeAnalyst:   "Act as a rigorous analyst: quantify where possible, cite your inputs, and separate facts from guesses.",
	store.ModeCreative:  "Act as a creative partner: offer bold ideas, build on the user's direction, and never dismiss a draft.",
}

var contextPrompts = map[string]string{
	store.ContextWork:     "This is a work conversation; stay professional and outcome-focused.",
	store.ContextPersonal: "This is a personal conversation; be discreet and considerate.",
	store.ContextPrivate:  "This is a private conversation; be discreet and considerate.",
	store.ContextCreative: "This is a creative conversation; favour exploration over convention.",
	store.ContextResearch: "This is a research conversation; be thorough and cite what you rely on.",
	store.ContextGeneral:  "",
}

const voiceClause = "Your reply will be spoken aloud: keep it under three short sentences and avoid lists, markdown, and URLs."

const toolInstructionsHeader = "You can call the following tools. Prefer a tool over guessing when the " +
	"request involves live information, the user's files, mail, music, or scheduling:"

// BuildSystemPrompt assembles the mode- and context-dependent system
// prompt, the tool instructions, and any retrieved memory context.
func BuildSystemPrompt(contextName, mode string, voiceEnabled bool, toolListing, memoryContext string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if modePrompt, ok := modePrompts[mode]; ok {
		b.WriteString("\n")
		b.WriteString(modePrompt)
	}
	if contextPrompt := contextPrompts[contextName]; contextPrompt != "" {
		b.WriteString("\n")
		b.WriteString(contextPrompt)
	}
	if voiceEnabled {
		b.WriteString("\n")
		b.WriteString(voiceClause)
	}
	if toolListing != "" {
		b.WriteString("\n\n")
		b.WriteString(toolInstructionsHeader)
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(toolListing, "\n"))
	}
	if memoryContext != "" {
		b.WriteString("\n\nWhat you remember about this user:\n")
		b.WriteString(memoryContext)
	}
	return b.String()
}
