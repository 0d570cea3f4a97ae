package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xiaot623/gogo/ava/internal/adapter/llm"
	"github.com/xiaot623/gogo/ava/internal/domain"
)

const schemaBaseURL = "https://ava.local/schemas/tools/"

// Call is a resolved tool call with validated, typed arguments.
type Call struct {
	Tool Tool
	// Args is *DrawImageArgs, *WriteCodeArgs or *AnswerArgs according to Tool.
	Args any
	// Input is the decoded argument object, used as policy input.
	Input map[string]any
}

// Prompt returns the prompt argument shared by all tools.
func (c *Call) Prompt() string {
	switch a := c.Args.(type) {
	case *DrawImageArgs:
		return a.Prompt
	case *WriteCodeArgs:
		return a.Prompt
	case *AnswerArgs:
		return a.Prompt
	}
	return ""
}

type spec struct {
	definition llm.Tool
	schema     *validator.Schema
}

// Registry holds the definition and compiled argument schema of every known tool.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	specs map[Tool]*spec
}

// NewRegistry reflects the argument schema of each tool and compiles a validator for it.
func NewRegistry() (*Registry, error) {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	compiler := validator.NewCompiler()

	r := &Registry{specs: make(map[Tool]*spec, len(All))}
	for _, t := range All {
		s := reflector.ReflectFromType(reflect.TypeOf(t.newArgs()).Elem())
		s.Version = ""

		raw, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", t, err)
		}

		doc, err := validator.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", t, err)
		}
		url := schemaBaseURL + string(t) + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", t, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t, err)
		}

		r.specs[t] = &spec{
			definition: llm.Tool{
				Type: "function",
				Function: llm.ToolFunction{
					Name:        string(t),
					Description: t.description(),
					Parameters:  raw,
				},
			},
			schema: compiled,
		}
	}
	return r, nil
}

// Definitions returns the tool definitions offered to the completion service.
func (r *Registry) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, len(All))
	for _, t := range All {
		defs = append(defs, r.specs[t].definition)
	}
	return defs
}

// Resolve parses the tool name and validates and decodes its argument string.
// It fails with domain.ErrUnknownTool or domain.ErrInvalidArguments.
func (r *Registry) Resolve(name, arguments string) (*Call, error) {
	t, err := Parse(name)
	if err != nil {
		return nil, err
	}
	sp := r.specs[t]

	inst, err := validator.UnmarshalJSON(strings.NewReader(arguments))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, t, err)
	}
	if err := sp.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, t, err)
	}

	args := t.newArgs()
	if err := json.Unmarshal([]byte(arguments), args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, t, err)
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, t, err)
	}

	return &Call{Tool: t, Args: args, Input: input}, nil
}
