// Package tools defines the closed set of tools the assistant can call and
// resolves completion tool calls into typed arguments.
package tools

import (
	"fmt"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

// Tool is one of the assistant's known tools.
type Tool string

const (
	DrawImage Tool = "draw_image"
	WriteCode Tool = "write_code"
	Answer    Tool = "answer"
)

// All lists the known tools in the order they are offered to the model.
var All = []Tool{DrawImage, WriteCode, Answer}

// Parse resolves a tool name from a completion. Unknown names fail with domain.ErrUnknownTool.
func Parse(name string) (Tool, error) {
	for _, t := range All {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownTool, name)
}

// Step returns the progress step reported while the tool runs.
func (t Tool) Step() domain.AssistantStep {
	switch t {
	case DrawImage:
		return domain.StepDrawImage
	case WriteCode:
		return domain.StepWriteCode
	default:
		return domain.StepChatCompletion
	}
}

func (t Tool) description() string {
	switch t {
	case DrawImage:
		return "Draw an image based on the prompt."
	case WriteCode:
		return "Write code based on the prompt."
	default:
		return "Just reply based on the prompt."
	}
}

func (t Tool) newArgs() any {
	switch t {
	case DrawImage:
		return &DrawImageArgs{}
	case WriteCode:
		return &WriteCodeArgs{}
	default:
		return &AnswerArgs{}
	}
}

// DrawImageArgs are the arguments of draw_image.
type DrawImageArgs struct {
	Prompt string `json:"prompt" jsonschema:"description=The prompt to draw an image,minLength=1"`
}

// WriteCodeArgs are the arguments of write_code.
type WriteCodeArgs struct {
	Prompt string `json:"prompt" jsonschema:"description=The prompt to write code,minLength=1"`
}

// AnswerArgs are the arguments of answer.
type AnswerArgs struct {
	Prompt string `json:"prompt" jsonschema:"description=The prompt to answer a question,minLength=1"`
}
