package rag

import (
	"strings"
	"text/template"
)

const promptTemplate = `You are a document analyst. Answer the question using only the document content below.
If the content does not answer the question, say that the document does not cover it.

Document content:
{{.Context}}

Question: {{.Question}}

Answer:`

var prompt = template.Must(template.New("prompt").Parse(promptTemplate))

// BuildPrompt renders the generation prompt for question over context.
func BuildPrompt(context, question string) string {
	var b strings.Builder
	// Execute only fails on writer errors; strings.Builder never returns one.
	_ = prompt.Execute(&b, struct{ Context, Question string }{context, strings.TrimSpace(question)})
	return b.String()
}
