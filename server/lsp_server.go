package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/lexcodex/acelens/framework"
	"github.com/lexcodex/acelens/framework/apimap"
	"github.com/lexcodex/acelens/framework/lens"
)

// Version is reported to clients in the initialize result.
const Version = "0.1.0"

// SessionFactory builds the api map session for a workspace root.
type SessionFactory func(root string) (*apimap.Session, error)

// Options configures an LSPServer.
type Options struct {
	Annotator lens.Annotator
	// Languages lists the language ids lenses are offered for. Empty means
	// typescript and typescriptreact.
	Languages []string
	Sessions  SessionFactory
	Telemetry framework.Telemetry
	Logger    *log.Logger
	// Watch pushes workspace/codeLens/refresh when the api sources change.
	Watch bool
}

// LSPServer answers code lens requests for api call sites.
type LSPServer struct {
	opts      Options
	languages map[string]bool
	logger    *log.Logger

	mu            sync.RWMutex
	openDocuments map[protocol.DocumentURI]*Document
	root          string
	session       *apimap.Session
	refresh       bool
	conn          *jsonrpc2.Conn
	disposables   []io.Closer
	shutdown      bool
}

// Document tracks open files from the editor.
type Document struct {
	URI        protocol.DocumentURI
	LanguageID string
	Version    int32
	Text       string
}

// NewLSPServer builds a server instance.
func NewLSPServer(opts Options) *LSPServer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	langs := opts.Languages
	if len(langs) == 0 {
		langs = []string{"typescript", "typescriptreact"}
	}
	languages := make(map[string]bool, len(langs))
	for _, l := range langs {
		languages[strings.ToLower(l)] = true
	}
	return &LSPServer{
		opts:          opts,
		languages:     languages,
		logger:        logger,
		openDocuments: make(map[protocol.DocumentURI]*Document),
	}
}

// Serve runs the JSON-RPC loop on rwc until the client disconnects or ctx ends.
func (s *LSPServer) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle))
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer s.dispose()

	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

// Track registers a resource released when the server shuts down.
func (s *LSPServer) Track(c io.Closer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposables = append(s.disposables, c)
}

func (s *LSPServer) dispose() {
	s.mu.Lock()
	closers := s.disposables
	s.disposables = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			s.logger.Printf("dispose: %v", err)
		}
	}
}

func (s *LSPServer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		var params protocol.InitializeParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return s.Initialize(params, rawParams(req))
	case "initialized":
		s.initialized()
		return nil, nil
	case "textDocument/didOpen":
		var params protocol.DidOpenTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		s.TextDocumentDidOpen(params)
		return nil, nil
	case "textDocument/didChange":
		var params protocol.DidChangeTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return nil, s.TextDocumentDidChange(params)
	case "textDocument/didClose":
		var params protocol.DidCloseTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		s.TextDocumentDidClose(params)
		return nil, nil
	case "textDocument/codeLens":
		var params protocol.CodeLensParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return s.CodeLens(ctx, params), nil
	case "workspace/executeCommand":
		var params protocol.ExecuteCommandParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return nil, s.ExecuteCommand(ctx, params)
	case "shutdown":
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		s.dispose()
		return nil, nil
	case "exit":
		return nil, conn.Close()
	default:
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method %s not handled", req.Method)}
	}
}

func decodeParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func rawParams(req *jsonrpc2.Request) json.RawMessage {
	if req.Params == nil {
		return nil
	}
	return *req.Params
}

// clientCapabilities is the partial view of the client capabilities the
// server reads.
type clientCapabilities struct {
	Capabilities struct {
		Workspace struct {
			CodeLens struct {
				RefreshSupport bool `json:"refreshSupport"`
			} `json:"codeLens"`
		} `json:"workspace"`
	} `json:"capabilities"`
}

// Initialize records the workspace root and builds the api map session.
// Only the first workspace folder is honored.
func (s *LSPServer) Initialize(params protocol.InitializeParams, raw json.RawMessage) (*protocol.InitializeResult, error) {
	root := workspaceRoot(params)
	name := ""
	if params.ClientInfo != nil {
		name = params.ClientInfo.Name
	}
	s.logger.Printf("LSP initialize from %q root=%q", name, root)

	var caps clientCapabilities
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &caps)
	}

	var session *apimap.Session
	if root != "" && s.opts.Sessions != nil {
		var err error
		session, err = s.opts.Sessions(root)
		if err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: fmt.Sprintf("configure workspace: %v", err)}
		}
	}

	s.mu.Lock()
	s.root = root
	s.session = session
	s.refresh = caps.Capabilities.Workspace.CodeLens.RefreshSupport
	s.mu.Unlock()

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncKindFull,
			CodeLensProvider: &protocol.CodeLensOptions{},
			ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
				Commands: []string{s.commandID()},
			},
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    "acelens",
			Version: Version,
		},
	}, nil
}

func workspaceRoot(params protocol.InitializeParams) string {
	if len(params.WorkspaceFolders) > 0 {
		if path := uriToPath(string(params.WorkspaceFolders[0].URI)); path != "" {
			return path
		}
	}
	return uriToPath(string(params.RootURI))
}

func (s *LSPServer) initialized() {
	s.mu.RLock()
	session := s.session
	refresh := s.refresh
	s.mu.RUnlock()
	if !s.opts.Watch || session == nil {
		return
	}
	if !refresh {
		s.logger.Printf("client lacks codeLens refresh support; watcher disabled")
		return
	}
	w, err := NewSourceWatcher(session.Builder.Sources, defaultDebounce, s.refreshCodeLenses, s.logger)
	if err != nil {
		s.logger.Printf("watch api sources: %v", err)
		return
	}
	s.Track(w)
}

func (s *LSPServer) refreshCodeLenses() {
	s.mu.RLock()
	conn := s.conn
	down := s.shutdown
	s.mu.RUnlock()
	if conn == nil || down {
		return
	}
	if err := conn.Call(context.Background(), "workspace/codeLens/refresh", nil, nil); err != nil {
		s.logger.Printf("codeLens refresh: %v", err)
	}
}

// TextDocumentDidOpen stores document state.
func (s *LSPServer) TextDocumentDidOpen(params protocol.DidOpenTextDocumentParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := params.TextDocument
	s.openDocuments[item.URI] = &Document{
		URI:        item.URI,
		LanguageID: string(item.LanguageID),
		Version:    item.Version,
		Text:       item.Text,
	}
}

// TextDocumentDidChange replaces document text. The server asks for full sync
// so the last change carries the whole document.
func (s *LSPServer) TextDocumentDidChange(params protocol.DidChangeTextDocumentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.openDocuments[params.TextDocument.URI]
	if !ok {
		return fmt.Errorf("document %s not tracked", params.TextDocument.URI)
	}
	if n := len(params.ContentChanges); n > 0 {
		doc.Text = params.ContentChanges[n-1].Text
	}
	doc.Version = params.TextDocument.Version
	return nil
}

// TextDocumentDidClose forgets the document.
func (s *LSPServer) TextDocumentDidClose(params protocol.DidCloseTextDocumentParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.openDocuments, params.TextDocument.URI)
}

// CodeLens returns one lens per resolved api call in the document. Every
// failure degrades to an empty list.
func (s *LSPServer) CodeLens(ctx context.Context, params protocol.CodeLensParams) []protocol.CodeLens {
	lenses := []protocol.CodeLens{}
	s.mu.RLock()
	session := s.session
	doc, ok := s.openDocuments[params.TextDocument.URI]
	var text, language string
	if ok {
		text, language = doc.Text, doc.LanguageID
	}
	s.mu.RUnlock()

	if !ok || session == nil || !s.languages[strings.ToLower(language)] {
		return lenses
	}
	paths, err := session.Current(ctx)
	if err != nil {
		if !errors.Is(err, apimap.ErrSourcesMissing) {
			s.logger.Printf("api map build failed: %v", err)
		}
		return lenses
	}
	if paths.Len() == 0 {
		return lenses
	}
	uri := string(params.TextDocument.URI)
	for _, a := range s.opts.Annotator.AnnotateText(lens.NewDocument(uri, text), paths) {
		pos := protocol.Position{Line: uint32(a.Line), Character: 0}
		args := make([]interface{}, 0, len(a.Command.Arguments))
		for _, arg := range a.Command.Arguments {
			args = append(args, arg)
		}
		lenses = append(lenses, protocol.CodeLens{
			Range: protocol.Range{Start: pos, End: pos},
			Command: &protocol.Command{
				Title:     a.Command.Title,
				Command:   a.Command.ID,
				Arguments: args,
			},
		})
	}
	framework.Emit(s.opts.Telemetry, framework.Event{Type: framework.EventLensesEmitted, URI: uri, Count: len(lenses)})
	return lenses
}

// showDocumentParams mirrors window/showDocument.
type showDocumentParams struct {
	URI       string `json:"uri"`
	External  bool   `json:"external,omitempty"`
	TakeFocus bool   `json:"takeFocus,omitempty"`
}

type showDocumentResult struct {
	Success bool `json:"success"`
}

// ExecuteCommand opens the path carried by an api lens in the client. The
// show request is sent asynchronously because the handler runs on the
// connection's read loop.
func (s *LSPServer) ExecuteCommand(ctx context.Context, params protocol.ExecuteCommandParams) error {
	if params.Command != s.commandID() {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: fmt.Sprintf("unknown command %s", params.Command)}
	}
	if len(params.Arguments) == 0 {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing path argument"}
	}
	target, ok := params.Arguments[0].(string)
	if !ok || strings.TrimSpace(target) == "" {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "path argument must be a string"}
	}
	if p := uriToPath(target); p != "" {
		target = p
	}
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return errors.New("no client connection")
	}
	framework.Emit(s.opts.Telemetry, framework.Event{Type: framework.EventCommandOpen, URI: pathToURI(target)})
	go func() {
		var result showDocumentResult
		err := conn.Call(context.Background(), "window/showDocument", showDocumentParams{
			URI:       pathToURI(target),
			TakeFocus: true,
		}, &result)
		if err != nil {
			s.logger.Printf("showDocument %s: %v", target, err)
			return
		}
		if !result.Success {
			s.logger.Printf("client declined to show %s", target)
		}
	}()
	return nil
}

// workspace returns the root chosen at initialize.
func (s *LSPServer) workspace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

func (s *LSPServer) commandID() string {
	if s.opts.Annotator.CommandID == "" {
		return lens.DefaultCommandID
	}
	return s.opts.Annotator.CommandID
}
