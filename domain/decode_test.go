package domain

import (
	"errors"
	"testing"
)

func TestDecodeNewTask(t *testing.T) {
	n, err := DecodeNewTask([]byte(`{"title":"Read a book"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Title != "Read a book" || n.Description != "" {
		t.Fatalf("unexpected task: %+v", n)
	}

	n, err = DecodeNewTask([]byte(`{"title":"Write","description":"chapter one","done":true,"id":99}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Title != "Write" || n.Description != "chapter one" {
		t.Fatalf("unexpected task: %+v", n)
	}
}

func TestDecodeNewTaskRejectsInvalidBodies(t *testing.T) {
	testCases := map[string]string{
		"empty":             ``,
		"whitespace":        `   `,
		"null":              `null`,
		"array":             `[{"title":"x"}]`,
		"number":            `42`,
		"malformed":         `{"title":`,
		"missing_title":     `{"description":"x"}`,
		"empty_title":       `{"title":""}`,
		"numeric_title":     `{"title":5}`,
		"null_title":        `{"title":null}`,
		"object_desc":       `{"title":"x","description":{}}`,
		"null_desc":         `{"title":"x","description":null}`,
		"string_done":       `{"title":"x","done":"yes"}`,
		"numeric_done":      `{"title":"x","done":1}`,
		"empty_object_body": `{}`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeNewTask([]byte(body)); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input for %q, got %v", body, err)
			}
		})
	}
}

func TestDecodeTaskPatch(t *testing.T) {
	p, err := DecodeTaskPatch([]byte(`{"done":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Done == nil || !*p.Done {
		t.Fatalf("expected done=true, got %+v", p)
	}
	if p.Title != nil || p.Description != nil {
		t.Fatalf("expected only done to be set, got %+v", p)
	}

	p, err = DecodeTaskPatch([]byte(`{"title":"New","description":"","done":false,"id":7,"extra":[1,2]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Title == nil || *p.Title != "New" {
		t.Fatalf("unexpected title: %+v", p.Title)
	}
	if p.Description == nil || *p.Description != "" {
		t.Fatalf("unexpected description: %+v", p.Description)
	}
	if p.Done == nil || *p.Done {
		t.Fatalf("unexpected done: %+v", p.Done)
	}
}

func TestDecodeTaskPatchEmptyObject(t *testing.T) {
	p, err := DecodeTaskPatch([]byte(`{}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Empty() {
		t.Fatalf("expected empty patch, got %+v", p)
	}
}

func TestDecodeTaskPatchRejectsMistypedFields(t *testing.T) {
	testCases := map[string]string{
		"null_body":    `null`,
		"array_body":   `[]`,
		"title_number": `{"title":1}`,
		"title_bool":   `{"title":true}`,
		"desc_array":   `{"description":["a"]}`,
		"done_string":  `{"done":"true"}`,
		"done_null":    `{"done":null}`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeTaskPatch([]byte(body)); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input for %q, got %v", body, err)
			}
		})
	}
}

func TestDecodeStringUnescapes(t *testing.T) {
	p, err := DecodeTaskPatch([]byte(`{"title":"café \"menu\""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *p.Title != `café "menu"` {
		t.Fatalf("unexpected title: %q", *p.Title)
	}
}
