package gocdp

import "testing"

func TestFindOptionsCompileCSS(t *testing.T) {
	if got, err := (FindOptions{CSS: "#login > button"}).compile(); err != nil || got != "#login > button" {
		t.Fatalf("expected pass-through CSS selector, got %q, err %v", got, err)
	}
}

func TestFindOptionsCompileXPath(t *testing.T) {
	if got, err := (FindOptions{XPath: "//div[@id='x']"}).compile(); err != nil || got != "//div[@id='x']" {
		t.Fatalf("expected pass-through XPath, got %q, err %v", got, err)
	}
}

func TestFindOptionsCompileAttributeBag(t *testing.T) {
	tests := []struct {
		name string
		opts FindOptions
		want string
	}{
		{"id only", FindOptions{ID: "submit"}, "*#submit"},
		{"tag and id", FindOptions{TagName: "button", ID: "submit"}, "button#submit"},
		{"class", FindOptions{TagName: "div", ClassName: "card"}, "div.card"},
		{"multi class", FindOptions{TagName: "div", ClassName: "card active"}, "div.card.active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.compile()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFindOptionsCompileRejectsEmptyBag(t *testing.T) {
	if _, err := (FindOptions{}).compile(); err != ErrInvalidCommand {
		t.Fatalf("expected ErrInvalidCommand for an empty attribute bag, got %v", err)
	}
}

func TestFindOptionsCompileName(t *testing.T) {
	got, err := (FindOptions{TagName: "input", Name: "email"}).compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `input[name="email"]` {
		t.Fatalf("expected input[name=%q], got %q", "email", got)
	}
}
