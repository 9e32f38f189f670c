package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"bamlls/internal/diag"
	"bamlls/internal/fileuri"
	"bamlls/internal/model"
	"bamlls/internal/workspace"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// CLI is the generator command line used for cliVersion and settings updates.
type CLI interface {
	SetCommand(path string)
	Version(ctx context.Context) (string, error)
}

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	Workspace workspace.Options
	CLI       CLI
	Logger    *slog.Logger
	Version   string

	// Level, when set, is the level of Logger's handler. A "verbose" trace
	// setting lowers it to debug until tracing is turned back down.
	Level *slog.LevelVar
}

// Server handles stdio JSON-RPC and forwards everything else to a
// workspace. It is also the workspace's Sink.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex

	ws      *workspace.Workspace
	cli     CLI
	log     *slog.Logger
	version string
	baseCtx context.Context

	level     *slog.LevelVar
	baseLevel slog.Level

	mu                sync.Mutex
	shutdownRequested bool
	traceLSP          bool
}

// NewServer constructs a server and its workspace.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		in:      bufio.NewReader(in),
		out:     bufio.NewWriter(out),
		cli:     opts.CLI,
		log:     logger,
		version: opts.Version,
		baseCtx: context.Background(),
		level:   opts.Level,
	}
	if opts.Level != nil {
		s.baseLevel = opts.Level.Level()
	}
	wsOpts := opts.Workspace
	if wsOpts.Logger == nil {
		wsOpts.Logger = logger
	}
	ws, err := workspace.New(s, wsOpts)
	if err != nil {
		return nil, err
	}
	s.ws = ws
	return s, nil
}

// Workspace returns the core the server drives.
func (s *Server) Workspace() *workspace.Workspace {
	return s.ws
}

// Run serves LSP requests until exit or EOF. The workspace is shut down on return.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	defer s.ws.Shutdown()
	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn("failed to parse message", "err", err)
			continue
		}
		if msg.Method == "" {
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	s.trace(msg)
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		s.mu.Lock()
		requested := s.shutdownRequested
		s.mu.Unlock()
		if requested {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	case "workspace/didChangeWatchedFiles":
		return s.handleDidChangeWatchedFiles(msg)
	case "workspace/didCreateFiles":
		return s.handleDidCreateFiles(msg)
	case "workspace/didDeleteFiles":
		return s.handleDidDeleteFiles(msg)
	case "workspace/didRenameFiles":
		return s.handleDidRenameFiles(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/hover":
		return s.handleHover(msg)
	case "textDocument/definition":
		return s.handleDefinition(msg)
	case "textDocument/documentSymbol":
		return s.handleDocumentSymbol(msg)
	case "textDocument/codeLens":
		return s.handleCodeLens(msg)
	case "codeLens/resolve":
		return s.handleCodeLensResolve(msg)
	case "getDefinition":
		return s.handleGetDefinition(msg)
	case "cliVersion":
		return s.handleCLIVersion(msg)
	case "saveFile":
		return s.handleSaveFile(msg)
	case "generatePythonTests":
		return s.handleGeneratePythonTests(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeMethodNotFound, "method not found")
		}
		return nil
	}
}

func (s *Server) trace(msg *rpcMessage) {
	s.mu.Lock()
	on := s.traceLSP
	s.mu.Unlock()
	if on {
		s.log.Info("lsp message", "method", msg.Method, "id", string(msg.ID), "bytes", len(msg.Params))
		return
	}
	s.log.Debug("lsp message", "method", msg.Method)
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, codeInvalidParams, "invalid params")
		}
	}
	root := ""
	if params.RootURI != "" {
		root = fileuri.ToPath(params.RootURI)
	}
	if root == "" && params.RootPath != "" {
		root = params.RootPath
	}
	if root == "" && len(params.WorkspaceFolders) > 0 {
		root = fileuri.ToPath(params.WorkspaceFolders[0].URI)
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	s.log.Info("initialize", "workspace", root, "folders", len(params.WorkspaceFolders))
	if len(params.InitializationOptions) > 0 {
		s.applySettings(params.InitializationOptions)
	}

	filters := s.fileFilters()
	result := initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    2,
				Save:      saveOptions{IncludeText: true},
			},
			HoverProvider:          true,
			DefinitionProvider:     true,
			DocumentSymbolProvider: true,
			CodeLensProvider:       &codeLensOptions{ResolveProvider: true},
			Workspace: &workspaceCapabilities{
				WorkspaceFolders: workspaceFoldersCapability{Supported: true, ChangeNotifications: true},
				FileOperations: fileOperations{
					DidCreate: filters,
					DidDelete: filters,
					DidRename: filters,
				},
			},
		},
		ServerInfo: serverInfo{Name: "bamlls", Version: s.version},
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) fileFilters() *fileOperationRegistration {
	reg := &fileOperationRegistration{}
	for _, ext := range s.ws.Extensions() {
		reg.Filters = append(reg.Filters, fileOperationFilter{
			Scheme:  "file",
			Pattern: fileOperationPattern{Glob: "**/*" + ext},
		})
	}
	return reg
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	return s.sendResponse(msg.ID, nil)
}

// DiagnosticsUpdated implements workspace.Sink.
func (s *Server) DiagnosticsUpdated(uri string, list []diag.Diagnostic) {
	s.notify("textDocument/publishDiagnostics", publishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toLSPDiagnostics(list),
	})
}

// ModelUpdated implements workspace.Sink.
func (s *Server) ModelUpdated(root string, m *model.Model) {
	s.notify("set_database", setDatabaseParams{RootPath: root, DB: m})
}

// ModelRemoved implements workspace.Sink.
func (s *Server) ModelRemoved(root string) {
	s.notify("rm_database", rmDatabaseParams{RootPath: root})
}

// UserMessage implements workspace.Sink.
func (s *Server) UserMessage(sev diag.Severity, text string) {
	s.notify("baml/message", userMessageParams{Type: messageType(sev), Message: text})
}

func (s *Server) notify(method string, params any) {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}
	if err := s.send(msg); err != nil {
		s.log.Error("failed to send notification", "method", method, "err", err)
	}
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}
