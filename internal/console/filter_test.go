package console

import (
	"errors"
	"testing"
)

func TestOutputFilterSearch(t *testing.T) {
	filter, err := NewOutputFilter(FilterSearch, "hello", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	result := filter.Filter("Say Hello world")
	if !result.Include {
		t.Fatalf("expected line to be included")
	}
	if len(result.Highlight) != 2 || result.Highlight[0] != 4 || result.Highlight[1] != 9 {
		t.Fatalf("unexpected highlight %v", result.Highlight)
	}

	if filter.Filter("goodbye").Include {
		t.Fatalf("expected line to be excluded")
	}

	strict, _ := NewOutputFilter(FilterSearch, "hello", true)
	if strict.Filter("Hello").Include {
		t.Fatalf("case sensitive search should not match")
	}
}

func TestOutputFilterErrors(t *testing.T) {
	filter, err := NewOutputFilter(FilterErrors, "", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	if !filter.Filter("SCRIPT ERROR: @chat/server.lua:12").Include {
		t.Fatalf("expected script error to be included")
	}
	if !filter.Filter("Couldn't start resource mapmanager").Include {
		t.Fatalf("expected resource failure to be included")
	}
	if filter.Filter("Started resource chat").Include {
		t.Fatalf("expected plain line to be excluded")
	}
}

func TestOutputFilterRegex(t *testing.T) {
	filter, err := NewOutputFilter(FilterRegex, "start(ed|ing) resource", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}
	if !filter.Filter("Started resource chat").Include {
		t.Fatalf("expected regex match to include line")
	}

	if _, err := NewOutputFilter(FilterRegex, "(", false); err == nil {
		t.Fatalf("expected invalid pattern to fail")
	}
}

func TestOutputFilterKinds(t *testing.T) {
	if _, err := NewOutputFilter("fuzzy", "x", false); !errors.Is(err, ErrUnknownFilter) {
		t.Fatalf("expected ErrUnknownFilter, got %v", err)
	}

	filter, err := NewOutputFilter("", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if filter.Kind != FilterNone {
		t.Fatalf("empty kind should mean none, got %s", filter.Kind)
	}

	lines := []string{"a", "b"}
	var nilFilter *OutputFilter
	if got := nilFilter.Apply(lines); len(got) != 2 {
		t.Fatalf("nil filter should keep everything, got %v", got)
	}
}
