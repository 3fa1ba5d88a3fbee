package vision

import "strings"

// DefaultPrompt is used when no context and no override is available.
const DefaultPrompt = "What is in this image? Base your answer primarily on the visual content; if the" +
	" surrounding context conflicts with or seems unrelated to the image, ignore it and" +
	" trust what you see. Only return neat facts. Respond directly with the core findings, do" +
	" not add lead-in phrases such as 'Based on the context' or 'Here is the summary', and" +
	" avoid Chinese introductions like '根据您提供的上下文信息' or '以下是'. Do not include" +
	" any [Page ...] or [ChunkType=...] markers in your response."

// BuildPrompt merges a caller prompt override with the contextual
// instructions. An override wins; context is appended beneath it.
func BuildPrompt(context, override string) string {
	if custom := strings.TrimSpace(override); custom != "" {
		if context != "" {
			return custom + "\n\nContext (lines may include [Page N] and [ChunkType=Title] markers; " +
				"use them only for positioning and do not output them):\n" + context
		}
		return custom
	}

	if context != "" {
		return "Analyze this image with the following context. Lines may include [Page N] and" +
			" [ChunkType=Title] markers indicating document structure:\n" +
			context + "\n" +
			"Describe what is visually present first, using the page and title cues only to" +
			" clarify placement. If the text context conflicts with or seems unrelated to the" +
			" visible content, explicitly prefer the image and ignore that context. Only return" +
			" neat facts in the language of the context. Respond with the key details only, do not" +
			" preface the answer with meta commentary such as '根据您提供的上下文信息' or '以下是'," +
			" and do not repeat any [Page ...] or [ChunkType=...] markers."
	}

	return DefaultPrompt
}
