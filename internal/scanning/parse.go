package scanning

import (
	"fmt"
	"strings"
)

// ocrSystemInstruction frames every LLM provider as a plain OCR engine
const ocrSystemInstruction = "You are an OCR engine. You output the exact text printed in images and nothing else."

// transcribePrompt is the shared prompt used by all LLM providers. It asks for a plain
// transcription; interpreting the receipt is left to the TotalExtractor.
func transcribePrompt(languages []string) string {
	return fmt.Sprintf(`You are acting as an OCR engine for a purchase receipt. The receipt may mix these languages: %s.

Transcribe ALL text visible in the image exactly as printed, one printed line per output line, top to bottom.

Important:
- Copy numbers, punctuation and labels verbatim (for example "NET-TOTAL: 1,234.50")
- Do not summarize, translate, correct or reorder anything
- Do not add commentary before or after the text
- Do not use markdown code blocks`, strings.Join(languages, ", "))
}

// cleanTranscript strips the wrapping LLM providers sometimes add around a transcription
func cleanTranscript(text string) string {
	text = reCRLF.ReplaceAllString(text, "\n")
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks, with or without a language tag
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	return strings.TrimSpace(text)
}
