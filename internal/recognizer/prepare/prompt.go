// Package prepare implements the recognizer's input preparation stage:
// chat prompt templating, image patchify, and image-placeholder token
// expansion (spec.md §4.4.1).
package prepare

import "fmt"

// ChatPromptTemplate is the literal template every recognition call
// fills in before tokenization.
const ChatPromptTemplate = "[gMASK]<sop><|user|>\n<|begin_of_image|><|image|><|end_of_image|>%s<|assistant|>\n"

// BuildPrompt substitutes the user-facing prompt into the fixed chat
// template.
func BuildPrompt(prompt string) string {
	return fmt.Sprintf(ChatPromptTemplate, prompt)
}
