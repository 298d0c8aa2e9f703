// Package prompt assembles the renderer input for a session: the goal,
// roles, constraints, the bounded conversation history, and the current
// task. Rendering itself is a collaborator behind the Renderer seam.
package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/mizuki-ai/kaiwa/internal/session"
	"github.com/mizuki-ai/kaiwa/internal/turn"
)

// Input is the document handed to a prompt template.
type Input struct {
	SessionGoal         string      `json:"session_goal"`
	Roles               []string    `json:"roles"`
	Constraints         []string    `json:"constraints"`
	ConversationHistory []turn.Turn `json:"conversation_history"`
	CurrentTask         string      `json:"current_task"`
}

// Renderer turns an Input into the string sent to the model.
type Renderer interface {
	Render(in *Input) (string, error)
}

// Build assembles the prompt input for a session. The history is the
// ForPrompt view reversed into chronological order; the current task is
// the session's final turn when it is an unanswered user task.
func Build(sess *session.Session, toolResponseLimit int, constraints []string) (*Input, error) {
	if sess.Turns == nil || sess.Turns.Len() == 0 {
		return nil, fmt.Errorf("session %s has no turns", sess.SessionID)
	}

	last, err := sess.Turns.At(sess.Turns.Len() - 1)
	if err != nil {
		return nil, err
	}
	currentTask := ""
	if ut, ok := last.(*turn.UserTask); ok {
		currentTask = ut.Instruction
	}

	return &Input{
		SessionGoal:         sess.Purpose,
		Roles:               sess.Roles,
		Constraints:         constraints,
		ConversationHistory: sess.Turns.PromptHistory(toolResponseLimit),
		CurrentTask:         currentTask,
	}, nil
}

// JSONRenderer renders the input as a JSON document.
type JSONRenderer struct{}

// Render implements Renderer.
func (JSONRenderer) Render(in *Input) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return string(data), nil
}
