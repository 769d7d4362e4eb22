package builtins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oarkflow/date"
	"github.com/oarkflow/dipper"
	"github.com/oarkflow/json"

	"github.com/oarkflow/svcl"
)

const maxBodyBytes = 10 << 20

func webBuiltins(state *State) []svcl.Builtin {
	return []svcl.Builtin{
		builtin(svcl.BuiltinHTTPGet, svcl.Exactly(1), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			body, err := state.fetch(ctx, args[0].Render())
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.String(body), nil
		}),
		builtin(svcl.BuiltinHTTPGetJSON, svcl.Exactly(1), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			url := args[0].Render()
			body, err := state.fetch(ctx, url)
			if err != nil {
				return svcl.Value{}, err
			}
			v, err := svcl.ParseJSONValue(body)
			if err != nil {
				return svcl.Value{}, fmt.Errorf("response from %s was not valid JSON: %w", url, err)
			}
			return v, nil
		}),
		builtin(svcl.BuiltinJSONParse, svcl.Exactly(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			return svcl.ParseJSONValue(args[0].Render())
		}),
		builtin(svcl.BuiltinJSONGet, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			tree, err := jsonTree(args[0])
			if err != nil {
				return svcl.Value{}, err
			}
			path := args[1].Render()
			v, err := dipper.Get(tree, path)
			if err != nil {
				return svcl.Value{}, fmt.Errorf("path %q: %w", path, err)
			}
			return svcl.ValueFromJSON(v), nil
		}),
		builtin(svcl.BuiltinHTMLSelect, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(args[0].Render()))
			if err != nil {
				return svcl.Value{}, err
			}
			texts := []any{}
			doc.Find(args[1].Render()).Each(func(_ int, s *goquery.Selection) {
				texts = append(texts, strings.TrimSpace(s.Text()))
			})
			return svcl.JSON(texts), nil
		}),
		builtin(svcl.BuiltinDateParse, svcl.Exactly(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			t, err := date.Parse(args[0].Render())
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.String(t.UTC().Format(time.RFC3339)), nil
		}),
	}
}

// fetch GETs url through the host's circuit breaker, serving repeated
// requests from the cache until the TTL expires.
func (s *State) fetch(ctx context.Context, url string) (string, error) {
	key := "http:" + url
	if cached, found := s.cache.Get(key); found {
		if body, isStr := cached.(string); isStr {
			return body, nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	data, err := s.do(req)
	if err != nil {
		return "", err
	}
	body := string(data)
	s.cache.SetWithTTL(key, body, int64(len(body))+1, s.ttl)
	s.cache.Wait()
	return body, nil
}

// do sends req through the host's circuit breaker and returns the body of a
// 2xx response.
func (s *State) do(req *http.Request) ([]byte, error) {
	cb := s.breakerFor(req.URL.String())
	if !cb.Allow() {
		return nil, ErrCircuitOpen
	}
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		cb.RecordFailure()
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		cb.RecordFailure()
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	s.logger.Info().Str("method", req.Method).Str("url", req.URL.String()).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("outbound request")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// jsonTree returns the tree behind a JSON value, parsing Strings as JSON text.
func jsonTree(v svcl.Value) (any, error) {
	if tree, isJSON := v.AsJSON(); isJSON {
		return tree, nil
	}
	if s, isStr := v.AsString(); isStr {
		var tree any
		if err := json.Unmarshal([]byte(s), &tree); err != nil {
			return nil, fmt.Errorf("not valid JSON: %w", err)
		}
		return tree, nil
	}
	return v.Interface(), nil
}
