package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Response is a normalized Graph payload. Collection responses
// ({"value": [...]}) and bare single objects both arrive as Items, so callers
// never special-case arity.
type Response struct {
	Items    []json.RawMessage
	NextLink string
}

// Empty reports whether the response carried no items.
func (r *Response) Empty() bool {
	return r == nil || len(r.Items) == 0
}

// parseResponse normalizes a response body. Only envelope-level keys are
// checked for duplicates here; item payloads are checked when decoded so one
// bad item does not poison its siblings.
func parseResponse(path string, body []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &Response{}, nil
	}
	if err := checkDuplicateKeys(path, trimmed, 1); err != nil {
		return nil, err
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &Error{Kind: KindTransport, Path: path, Message: "decode collection", Err: err}
		}
		return &Response{Items: items}, nil
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &Error{Kind: KindTransport, Path: path, Message: "decode response", Err: err}
	}

	resp := &Response{}
	if raw, ok := env["@odata.nextLink"]; ok {
		if err := json.Unmarshal(raw, &resp.NextLink); err != nil {
			return nil, &Error{Kind: KindTransport, Path: path, Message: "decode next link", Err: err}
		}
	}

	value, ok := env["value"]
	value = bytes.TrimSpace(value)
	switch {
	case ok && bytes.Equal(value, []byte("null")):
		return resp, nil
	case ok && len(value) > 0 && value[0] == '[':
		if err := json.Unmarshal(value, &resp.Items); err != nil {
			return nil, &Error{Kind: KindTransport, Path: path, Message: "decode value", Err: err}
		}
		return resp, nil
	default:
		// Single-entity responses omit the collection wrapper.
		resp.Items = []json.RawMessage{json.RawMessage(trimmed)}
		return resp, nil
	}
}

// Decode unmarshals one item into v. Payloads containing keys that collide
// case-insensitively fail with KindMalformedPayload.
func Decode(raw json.RawMessage, v any) error {
	if err := checkDuplicateKeys("", raw, 0); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Kind: KindTransport, Message: "decode item", Err: err}
	}
	return nil
}

func checkDuplicateKeys(path string, data []byte, maxDepth int) error {
	key, err := findDuplicateKey(data, maxDepth)
	if err != nil {
		return &Error{Kind: KindTransport, Path: path, Message: "invalid json", Err: err}
	}
	if key != "" {
		return &Error{
			Kind:    KindMalformedPayload,
			Path:    path,
			Message: fmt.Sprintf("payload contains the duplicated key %q", key),
		}
	}
	return nil
}

type jsonFrame struct {
	object    bool
	expectKey bool
	keys      map[string]struct{}
}

// findDuplicateKey walks data and returns the first object key that repeats
// (ignoring case) within the same object. maxDepth limits the object nesting
// inspected; zero inspects everything.
func findDuplicateKey(data []byte, maxDepth int) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var stack []*jsonFrame
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		var top *jsonFrame
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}

		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				if top != nil && top.object {
					top.expectKey = true
				}
				frame := &jsonFrame{object: delim == '{', expectKey: delim == '{'}
				if frame.object {
					frame.keys = make(map[string]struct{})
				}
				stack = append(stack, frame)
			default:
				stack = stack[:len(stack)-1]
			}
			continue
		}

		if top == nil || !top.object {
			continue
		}
		if !top.expectKey {
			top.expectKey = true
			continue
		}
		top.expectKey = false
		key, _ := tok.(string)
		if maxDepth > 0 && len(stack) > maxDepth {
			continue
		}
		folded := strings.ToLower(key)
		if _, seen := top.keys[folded]; seen {
			return key, nil
		}
		top.keys[folded] = struct{}{}
	}
}
