package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/venom/compiler"
)

const lspName = "venom-lsp"

// LspServer serves editor features for venom source files. Everything it
// reports comes from compiling the open document; nothing is executed.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Infof("venom LSP %s initializing", s.version)

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return completions(compiler.Analyze(text), prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(compiler.Analyze(text), word), nil
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics(compiler.Analyze(text)),
	})
}

// --- Analysis-backed logic ---

// diagnostics converts compile errors to LSP diagnostics. Compile errors
// are 1-based; LSP positions are 0-based.
func diagnostics(a *compiler.Analysis) []protocol.Diagnostic {
	result := []protocol.Diagnostic{}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	for _, e := range a.Errors {
		line := protocol.UInteger(max(e.Line-1, 0))
		col := protocol.UInteger(max(e.Column-1, 0))
		result = append(result, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: line, Character: col},
				End:   protocol.Position{Line: line, Character: col + 1},
			},
			Severity: &severity,
			Source:   &source,
			Message:  e.Message,
		})
	}
	return result
}

func completions(a *compiler.Analysis, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	for _, d := range a.Declarations {
		if !strings.HasPrefix(d.Name, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindVariable
		if d.Kind == compiler.DeclFunction {
			kind = protocol.CompletionItemKindFunction
		}
		detail := signature(d)
		name := d.Name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}

	keywords := make([]string, 0, len(compiler.Keywords))
	for kw := range compiler.Keywords {
		if strings.HasPrefix(kw, prefix) {
			keywords = append(keywords, kw)
		}
	}
	sort.Strings(keywords)
	for _, kw := range keywords {
		kind := protocol.CompletionItemKindKeyword
		name := kw
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			InsertText: &name,
		})
	}

	return items
}

func hover(a *compiler.Analysis, word string) *protocol.Hover {
	for _, d := range a.Declarations {
		if d.Name != word {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "**%s**\n\n", signature(d))
		if d.Kind == compiler.DeclFunction {
			fmt.Fprintf(&b, "Function taking %d arguments, declared on line %d", d.Arity, d.Line)
		} else {
			fmt.Fprintf(&b, "Global variable, declared on line %d", d.Line)
		}
		return &protocol.Hover{
			Contents: protocol.MarkupContent{
				Kind:  protocol.MarkupKindMarkdown,
				Value: b.String(),
			},
		}
	}
	return nil
}

func signature(d compiler.Declaration) string {
	if d.Kind == compiler.DeclFunction {
		return fmt.Sprintf("fn %s(%s)", d.Name, strings.Join(d.Params, ", "))
	}
	return "let " + d.Name
}

// --- Text extraction helpers ---

func isIdentRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// lineAt returns the line at pos and the cursor as a byte offset into it.
func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	col := 0
	for i := protocol.UInteger(0); i < pos.Character && col < len(line); i++ {
		_, size := utf8.DecodeRuneInString(line[col:])
		col += size
	}
	return line, col, true
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 {
		ch, size := utf8.DecodeLastRuneInString(line[:start])
		if !isIdentRune(ch) {
			break
		}
		start -= size
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 {
		ch, size := utf8.DecodeLastRuneInString(line[:start])
		if !isIdentRune(ch) {
			break
		}
		start -= size
	}
	end := col
	for end < len(line) {
		ch, size := utf8.DecodeRuneInString(line[end:])
		if !isIdentRune(ch) {
			break
		}
		end += size
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
