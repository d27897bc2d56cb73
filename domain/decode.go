package domain

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"
)

const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldDone        = "done"
)

// DecodeNewTask parses a create request body. The body must be a JSON object
// with a string title; description must be a string and done a boolean when
// present. A supplied done value is checked but not used: new tasks always
// start open.
func DecodeNewTask(data []byte) (NewTask, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return NewTask{}, err
	}

	raw, ok := fields[fieldTitle]
	if !ok {
		return NewTask{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	var n NewTask
	if n.Title, err = decodeString(fieldTitle, raw); err != nil {
		return NewTask{}, err
	}
	if raw, ok := fields[fieldDescription]; ok {
		if n.Description, err = decodeString(fieldDescription, raw); err != nil {
			return NewTask{}, err
		}
	}
	if raw, ok := fields[fieldDone]; ok {
		if _, err := decodeBool(fieldDone, raw); err != nil {
			return NewTask{}, err
		}
	}
	if err := n.Validate(); err != nil {
		return NewTask{}, err
	}
	return n, nil
}

// DecodeTaskPatch parses an update request body into a patch. Only title,
// description and done are recognised; other members, including id, are
// ignored.
func DecodeTaskPatch(data []byte) (TaskPatch, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return TaskPatch{}, err
	}

	var p TaskPatch
	if raw, ok := fields[fieldTitle]; ok {
		title, err := decodeString(fieldTitle, raw)
		if err != nil {
			return TaskPatch{}, err
		}
		p.Title = &title
	}
	if raw, ok := fields[fieldDescription]; ok {
		desc, err := decodeString(fieldDescription, raw)
		if err != nil {
			return TaskPatch{}, err
		}
		p.Description = &desc
	}
	if raw, ok := fields[fieldDone]; ok {
		done, err := decodeBool(fieldDone, raw)
		if err != nil {
			return TaskPatch{}, err
		}
		p.Done = &done
	}
	return p, nil
}

func decodeObject(data []byte) (map[string]sonic.NoCopyRawMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidInput)
	}
	var fields map[string]sonic.NoCopyRawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	// a literal null decodes without error into a nil map
	if fields == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidInput)
	}
	return fields, nil
}

func decodeString(name string, raw []byte) (string, error) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || v[0] != '"' {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidInput, name)
	}
	var s string
	if err := sonic.ConfigStd.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
	}
	return s, nil
}

func decodeBool(name string, raw []byte) (bool, error) {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidInput, name)
	}
}
