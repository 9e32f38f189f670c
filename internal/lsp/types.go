package lsp

import (
	"encoding/json"

	"bamlls/internal/model"
	"bamlls/internal/query"
)

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes.
const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternalError  = -32603
	codeRequestFailed  = -32803
)

type initializeParams struct {
	RootURI               string            `json:"rootUri,omitempty"`
	RootPath              string            `json:"rootPath,omitempty"`
	WorkspaceFolders      []workspaceFolder `json:"workspaceFolders,omitempty"`
	InitializationOptions json.RawMessage   `json:"initializationOptions,omitempty"`
}

type workspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type versionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

type textDocumentPositionParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Position     position               `json:"position"`
}

type position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type lspRange struct {
	Start position `json:"start"`
	End   position `json:"end"`
}

type textDocumentContentChangeEvent struct {
	Range *lspRange `json:"range,omitempty"`
	Text  string    `json:"text"`
}

type didOpenTextDocumentParams struct {
	TextDocument textDocumentItem `json:"textDocument"`
}

type didChangeTextDocumentParams struct {
	TextDocument   versionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []textDocumentContentChangeEvent `json:"contentChanges"`
}

type didSaveTextDocumentParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

type didCloseTextDocumentParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

// File change types of workspace/didChangeWatchedFiles.
const (
	watchCreated = 1
	watchChanged = 2
	watchDeleted = 3
)

type fileEvent struct {
	URI  string `json:"uri"`
	Type int    `json:"type"`
}

type didChangeWatchedFilesParams struct {
	Changes []fileEvent `json:"changes"`
}

type fileCreate struct {
	URI string `json:"uri"`
}

type fileRename struct {
	OldURI string `json:"oldUri"`
	NewURI string `json:"newUri"`
}

type createFilesParams struct {
	Files []fileCreate `json:"files"`
}

type deleteFilesParams struct {
	Files []fileCreate `json:"files"`
}

type renameFilesParams struct {
	Files []fileRename `json:"files"`
}

type textDocumentSyncOptions struct {
	OpenClose bool        `json:"openClose"`
	Change    int         `json:"change"`
	Save      saveOptions `json:"save,omitempty"`
}

type saveOptions struct {
	IncludeText bool `json:"includeText,omitempty"`
}

type codeLensOptions struct {
	ResolveProvider bool `json:"resolveProvider"`
}

type fileOperationPattern struct {
	Glob string `json:"glob"`
}

type fileOperationFilter struct {
	Scheme  string               `json:"scheme,omitempty"`
	Pattern fileOperationPattern `json:"pattern"`
}

type fileOperationRegistration struct {
	Filters []fileOperationFilter `json:"filters"`
}

type fileOperations struct {
	DidCreate *fileOperationRegistration `json:"didCreate,omitempty"`
	DidDelete *fileOperationRegistration `json:"didDelete,omitempty"`
	DidRename *fileOperationRegistration `json:"didRename,omitempty"`
}

type workspaceFoldersCapability struct {
	Supported           bool `json:"supported"`
	ChangeNotifications bool `json:"changeNotifications"`
}

type workspaceCapabilities struct {
	WorkspaceFolders workspaceFoldersCapability `json:"workspaceFolders"`
	FileOperations   fileOperations             `json:"fileOperations"`
}

type serverCapabilities struct {
	TextDocumentSync       textDocumentSyncOptions `json:"textDocumentSync"`
	HoverProvider          bool                    `json:"hoverProvider,omitempty"`
	DefinitionProvider     bool                    `json:"definitionProvider,omitempty"`
	DocumentSymbolProvider bool                    `json:"documentSymbolProvider,omitempty"`
	CodeLensProvider       *codeLensOptions        `json:"codeLensProvider,omitempty"`
	Workspace              *workspaceCapabilities  `json:"workspace,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type initializeResult struct {
	Capabilities serverCapabilities `json:"capabilities"`
	ServerInfo   serverInfo         `json:"serverInfo"`
}

type publishDiagnosticsParams struct {
	URI         string          `json:"uri"`
	Diagnostics []lspDiagnostic `json:"diagnostics"`
}

type lspDiagnostic struct {
	Range    lspRange `json:"range"`
	Severity int      `json:"severity,omitempty"`
	Code     string   `json:"code,omitempty"`
	Source   string   `json:"source,omitempty"`
	Message  string   `json:"message"`
}

type markupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type hover struct {
	Contents markupContent `json:"contents"`
	Range    *lspRange     `json:"range,omitempty"`
}

type location struct {
	URI   string   `json:"uri"`
	Range lspRange `json:"range"`
}

type locationLink struct {
	TargetURI            string   `json:"targetUri"`
	TargetRange          lspRange `json:"targetRange"`
	TargetSelectionRange lspRange `json:"targetSelectionRange"`
}

type documentSymbolParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

type documentSymbol struct {
	Name           string   `json:"name"`
	Detail         string   `json:"detail,omitempty"`
	Kind           int      `json:"kind"`
	Range          lspRange `json:"range"`
	SelectionRange lspRange `json:"selectionRange"`
}

type codeLensParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

type command struct {
	Title     string              `json:"title"`
	Command   string              `json:"command"`
	Arguments []query.LensPayload `json:"arguments,omitempty"`
}

type codeLens struct {
	Range   lspRange `json:"range"`
	Command *command `json:"command,omitempty"`
}

type getDefinitionParams struct {
	SourceFile string `json:"sourceFile"`
	Name       string `json:"name"`
}

type saveFileParams struct {
	Filepath string `json:"filepath"`
}

type didChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

// userMessageParams is the payload of baml/message.
type userMessageParams struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// setDatabaseParams is the payload of set_database.
type setDatabaseParams struct {
	RootPath string       `json:"rootPath"`
	DB       *model.Model `json:"db"`
}

// rmDatabaseParams is the payload of rm_database.
type rmDatabaseParams struct {
	RootPath string `json:"rootPath"`
}

type lspSettings struct {
	BAML bamlSettings `json:"baml"`
}

type bamlSettings struct {
	Path  *string       `json:"path,omitempty"`
	Trace traceSettings `json:"trace"`
}

type traceSettings struct {
	Server *string `json:"server,omitempty"`
}
