package oracle

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the single request sent for one evidence item: the evidence fields,
// the enumerated candidates and the output-shape instruction.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You assess whether a government action is evidence of progress on policy commitments.\n\n")

	b.WriteString("EVIDENCE\n")
	fmt.Fprintf(&b, "Source type: %s\n", req.SourceType)
	if !req.EventDate.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", req.EventDate.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Title: %s\n", oneLine(req.Title))
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", oneLine(req.Description))
	}

	b.WriteString("\nCANDIDATE COMMITMENTS\n")
	for i, c := range req.Candidates {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, c.PromiseID, oneLine(c.Text))
	}

	b.WriteString(`
For every candidate, judge whether the evidence directly advances that commitment.
Respond with JSON only, in exactly this shape:
{"judgments": [{"promise_id": "<id from the list>", "relevant": true|false, "confidence": <number 0-1>, "rationale": "<one sentence>"}]}
Use only promise_id values from the list. Include one judgment per candidate.
`)

	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
