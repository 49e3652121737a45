package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/venom/compiler"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "let total", protocol.Position{Line: 0, Character: 9}, "total"},
		{"at start", "pri", protocol.Position{Line: 0, Character: 3}, "pri"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first;\nsecond;\nadd", protocol.Position{Line: 2, Character: 3}, "add"},
		{"mid word", "counter", protocol.Position{Line: 0, Character: 4}, "coun"},
		{"after paren", "f(arg", protocol.Position{Line: 0, Character: 5}, "arg"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column beyond line", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
		{"non-ascii", "let πr", protocol.Position{Line: 0, Character: 6}, "πr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"middle", "print total;", protocol.Position{Line: 0, Character: 8}, "total"},
		{"start", "print total;", protocol.Position{Line: 0, Character: 6}, "total"},
		{"end", "print total;", protocol.Position{Line: 0, Character: 11}, "total"},
		{"on punctuation", "a + b", protocol.Position{Line: 0, Character: 2}, ""},
		{"second line", "let x = 1;\nadd(x, 2);", protocol.Position{Line: 1, Character: 1}, "add"},
		{"underscore", "my_var = 3;", protocol.Position{Line: 0, Character: 3}, "my_var"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Analysis-backed features
// ---------------------------------------------------------------------------

const lspSource = `let total = 0;
fn add(a, b) { return a + b; }
fn tick() { total = add(total, 1); }
`

func TestDiagnostics(t *testing.T) {
	diags := diagnostics(compiler.Analyze("let x = 1;\nprint y\nx = 2;"))
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1: %+v", len(diags), diags)
	}
	d := diags[0]
	if d.Range.Start.Line != 2 {
		t.Errorf("diagnostic line = %d, want 2 (0-based)", d.Range.Start.Line)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("diagnostic severity should be Error")
	}
	if d.Source == nil || *d.Source != lspName {
		t.Errorf("diagnostic source = %v, want %q", d.Source, lspName)
	}
	if !strings.Contains(d.Message, "expected ';' after value") {
		t.Errorf("message = %q", d.Message)
	}
}

func TestDiagnosticsCleanSource(t *testing.T) {
	diags := diagnostics(compiler.Analyze(lspSource))
	if diags == nil || len(diags) != 0 {
		t.Errorf("diagnostics = %#v, want empty non-nil slice", diags)
	}
}

func TestCompletions(t *testing.T) {
	a := compiler.Analyze(lspSource)

	items := completions(a, "t")
	labels := map[string]protocol.CompletionItemKind{}
	for _, item := range items {
		labels[item.Label] = *item.Kind
	}
	if labels["total"] != protocol.CompletionItemKindVariable {
		t.Errorf("total kind = %v, want variable", labels["total"])
	}
	if labels["tick"] != protocol.CompletionItemKindFunction {
		t.Errorf("tick kind = %v, want function", labels["tick"])
	}
	if _, ok := labels["add"]; ok {
		t.Error("add should not match prefix t")
	}

	items = completions(a, "p")
	if len(items) != 1 || items[0].Label != "print" || *items[0].Kind != protocol.CompletionItemKindKeyword {
		t.Errorf("completions(p) = %+v, want print keyword", items)
	}
}

func TestCompletionDetail(t *testing.T) {
	items := completions(compiler.Analyze(lspSource), "add")
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Detail == nil || *items[0].Detail != "fn add(a, b)" {
		t.Errorf("detail = %v, want fn add(a, b)", items[0].Detail)
	}
}

func TestHover(t *testing.T) {
	a := compiler.Analyze(lspSource)

	h := hover(a, "add")
	if h == nil {
		t.Fatal("hover(add) = nil")
	}
	content := h.Contents.(protocol.MarkupContent)
	if content.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("kind = %q, want markdown", content.Kind)
	}
	if !strings.Contains(content.Value, "fn add(a, b)") || !strings.Contains(content.Value, "2 arguments") {
		t.Errorf("hover(add) = %q", content.Value)
	}
	if !strings.Contains(content.Value, "line 2") {
		t.Errorf("hover(add) = %q, want declaration line 2", content.Value)
	}

	h = hover(a, "total")
	if h == nil || !strings.Contains(h.Contents.(protocol.MarkupContent).Value, "let total") {
		t.Errorf("hover(total) = %+v", h)
	}

	if hover(a, "a") != nil {
		t.Error("hover on a parameter should be nil")
	}
	if hover(a, "missing") != nil {
		t.Error("hover on unknown name should be nil")
	}
}

func TestNewLSP(t *testing.T) {
	s := NewLSP("1.2.3")
	if s.server == nil {
		t.Fatal("server not created")
	}
	if s.handler.TextDocumentHover == nil || s.handler.TextDocumentCompletion == nil {
		t.Error("language feature handlers not registered")
	}
	if _, ok := s.document("file:///none.vn"); ok {
		t.Error("unexpected open document")
	}
}

func TestInitialize(t *testing.T) {
	s := NewLSP("1.2.3")
	got, err := s.initialize(nil, &protocol.InitializeParams{})
	if err != nil {
		t.Fatal(err)
	}
	res, ok := got.(protocol.InitializeResult)
	if !ok {
		t.Fatalf("initialize returned %T", got)
	}
	if res.ServerInfo == nil || res.ServerInfo.Name != lspName || *res.ServerInfo.Version != "1.2.3" {
		t.Errorf("server info = %+v", res.ServerInfo)
	}
	if res.Capabilities.HoverProvider != true {
		t.Errorf("hover provider = %v", res.Capabilities.HoverProvider)
	}
	if res.Capabilities.CompletionProvider == nil {
		t.Error("completion provider not advertised")
	}
}
