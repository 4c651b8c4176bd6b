package pipeline

import (
	"fmt"
	"strings"
)

const primarySystemPrompt = "You are Aury, an AI assistant that creates engaging, informative social media posts. " +
	"Keep answers concise (maximum 100 words), insightful, and conversation-starting. " +
	"Focus on providing value and sparking discussion."

// derivePrompt returns the system and user messages asking a persona for a
// related question.
func derivePrompt(persona, question string) (system, user string) {
	system = fmt.Sprintf("You are a %s-focused content specialist. Generate a related but different question about %s. Return ONLY the question, nothing else.", persona, question)
	user = "Generate a related question about: " + question
	return system, user
}

func personaAnswerPrompt(persona string) string {
	return fmt.Sprintf("You are Aury, a %s-focused AI. Provide an insightful, engaging answer. Keep it maximum 100 words.", persona)
}

// cleanDerivedQuestion strips whitespace and one layer of matching quotes
// that models tend to wrap a lone question in.
func cleanDerivedQuestion(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"`", "`"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
			break
		}
	}
	return s
}
