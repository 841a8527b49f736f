// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "strings"

// echoPatterns are fragments the completion-format local model is known to
// leak back from its instructions. Lines containing any of them are dropped.
var echoPatterns = []string{
	"Please provide",
	"Please note",
	"Please give",
	"You are a",
	"As a Linux",
	"As an AI",
	"I'd be happy to",
	"Here's my response",
	"Here is my response",
	"Let me help",
	"I can help",
	"(2-3 sentences",
	"sentences max)",
	"Be specific and concise",
	"brief, actionable",
	"Hint:",
	"Note:",
}

// sanitizeCompletion strips prompt-echo and instruction-leakage lines from
// raw local-model output. The underlying completion format does not reliably
// separate instructions from generated text, so this is best-effort text
// cleanup, not a correctness guarantee. Remote chat APIs do not need it.
func sanitizeCompletion(raw string) string {
	var b strings.Builder
	first := true
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		leak := false
		for _, pattern := range echoPatterns {
			if strings.Contains(line, pattern) {
				leak = true
				break
			}
		}
		if leak {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		first = false
	}
	return strings.TrimSpace(b.String())
}
