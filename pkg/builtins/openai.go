package builtins

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/json"
	"github.com/oarkflow/json/jsonparser"

	"github.com/oarkflow/svcl"
)

var ErrMissingAPIKey = errors.New("missing OpenAI API key; set SVCL_OPENAI_API_KEY or OPENAI_API_KEY, or call openai_set_api_key(key)")

func openAIBuiltins(state *State) []svcl.Builtin {
	return []svcl.Builtin{
		builtin(svcl.BuiltinOpenAISetAPIKey, svcl.Exactly(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			state.SetAPIKey(args[0].Render())
			return okValue, nil
		}),
		builtin(svcl.BuiltinOpenAISetSystemPrompt, svcl.Exactly(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			state.SetSystemPrompt(args[0].Render())
			return okValue, nil
		}),
		absorbing(svcl.BuiltinOpenAIChat, svcl.Exactly(1), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			body, err := state.chat(ctx, args[0].Render())
			if err != nil {
				return svcl.Value{}, err
			}
			content, err := replyContent(body)
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.String(content), nil
		}),
		absorbing(svcl.BuiltinOpenAIChatJSON, svcl.Exactly(1), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			body, err := state.chat(ctx, args[0].Render())
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.ParseJSONValue(string(body))
		}),
		absorbing(svcl.BuiltinOpenAIMCPCall, svcl.Exactly(3), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			server, tool := args[0].Render(), args[1].Render()
			toolArgs, err := jsonTree(args[2])
			if err != nil {
				toolArgs = map[string]any{"raw": args[2].Render()}
			}
			encoded, err := json.Marshal(toolArgs)
			if err != nil {
				return svcl.Value{}, err
			}
			model, _, _ := state.openAISettings()
			payload := map[string]any{
				"model": model,
				"input": fmt.Sprintf("Call MCP tool '%s' on server '%s' with args: %s", tool, server, encoded),
			}
			body, err := state.postOpenAI(ctx, "responses", payload)
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.ParseJSONValue(string(body))
		}),
	}
}

func (s *State) chat(ctx context.Context, message string) ([]byte, error) {
	model, _, prompt := s.openAISettings()
	var messages []map[string]string
	if prompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": prompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": message})
	return s.postOpenAI(ctx, "chat/completions", map[string]any{"model": model, "messages": messages})
}

func (s *State) postOpenAI(ctx context.Context, path string, payload any) ([]byte, error) {
	key := s.APIKey()
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	_, baseURL, _ := s.openAISettings()
	endpoint := strings.TrimRight(baseURL, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	return s.do(req)
}

// replyContent extracts choices[0].message.content from a chat completion.
// A reply without string content yields "".
func replyContent(body []byte) (string, error) {
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return "", fmt.Errorf("malformed response: expected a JSON object")
	}
	raw, dataType, _, err := jsonparser.Get(body, "choices", "[0]", "message", "content")
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("malformed response: %w", err)
	}
	if dataType != jsonparser.String {
		return "", nil
	}
	content, err := jsonparser.ParseString(raw)
	if err != nil {
		return "", fmt.Errorf("malformed response content: %w", err)
	}
	return content, nil
}
