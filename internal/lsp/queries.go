package lsp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bamlls/internal/fileuri"
	"bamlls/internal/query"
)

const (
	cliVersionTimeout    = 10 * time.Second
	generateTestsTimeout = 30 * time.Second
)

func (s *Server) handleHover(msg *rpcMessage) error {
	var params textDocumentPositionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	h, ok := s.ws.Hover(params.TextDocument.URI, toPosition(params.Position))
	if !ok {
		return s.sendResponse(msg.ID, nil)
	}
	r := fromRange(h.Range)
	return s.sendResponse(msg.ID, hover{
		Contents: markupContent{Kind: "markdown", Value: h.Markdown},
		Range:    &r,
	})
}

func (s *Server) handleDefinition(msg *rpcMessage) error {
	var params textDocumentPositionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	locs := s.ws.Definition(params.TextDocument.URI, toPosition(params.Position))
	return s.sendResponse(msg.ID, toLocationLinks(locs))
}

func (s *Server) handleGetDefinition(msg *rpcMessage) error {
	var params getDefinitionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	locs := s.ws.DefinitionByName(params.SourceFile, params.Name)
	return s.sendResponse(msg.ID, toLocationLinks(locs))
}

func toLocationLinks(locs []query.Location) []locationLink {
	out := make([]locationLink, 0, len(locs))
	for _, loc := range locs {
		r := fromRange(loc.Range)
		out = append(out, locationLink{TargetURI: loc.URI, TargetRange: r, TargetSelectionRange: r})
	}
	return out
}

func (s *Server) handleDocumentSymbol(msg *rpcMessage) error {
	var params documentSymbolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	syms := s.ws.DocumentSymbols(params.TextDocument.URI)
	out := make([]documentSymbol, 0, len(syms))
	for _, sym := range syms {
		out = append(out, documentSymbol{
			Name:           sym.Name,
			Detail:         sym.Detail,
			Kind:           symbolKind(sym.Kind),
			Range:          fromRange(sym.Range),
			SelectionRange: fromRange(sym.SelectionRange),
		})
	}
	return s.sendResponse(msg.ID, out)
}

func (s *Server) handleCodeLens(msg *rpcMessage) error {
	var params codeLensParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	lenses := s.ws.CodeLenses(params.TextDocument.URI)
	out := make([]codeLens, 0, len(lenses))
	for _, lens := range lenses {
		out = append(out, codeLens{
			Range: fromRange(lens.Range),
			Command: &command{
				Title:     lens.Title,
				Command:   lens.Command,
				Arguments: []query.LensPayload{lens.Payload},
			},
		})
	}
	return s.sendResponse(msg.ID, out)
}

// handleCodeLensResolve echoes the lens: commands are filled in eagerly.
func (s *Server) handleCodeLensResolve(msg *rpcMessage) error {
	var lens codeLens
	if err := json.Unmarshal(msg.Params, &lens); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	return s.sendResponse(msg.ID, lens)
}

func (s *Server) handleCLIVersion(msg *rpcMessage) error {
	if s.cli == nil {
		return s.sendResponse(msg.ID, nil)
	}
	ctx, cancel := context.WithTimeout(s.baseCtx, cliVersionTimeout)
	defer cancel()
	version, err := s.cli.Version(ctx)
	if err != nil {
		s.log.Warn("failed to query cli version", "err", err)
		return s.sendResponse(msg.ID, nil)
	}
	return s.sendResponse(msg.ID, strings.TrimSpace(version))
}

// handleGeneratePythonTests passes the request through to the compiler and
// answers with the generated file, or null on failure. Failures also reach
// the user as a baml/message.
func (s *Server) handleGeneratePythonTests(msg *rpcMessage) error {
	var request any
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &request); err != nil {
			return s.sendError(msg.ID, codeInvalidParams, "invalid params")
		}
	}
	ctx, cancel := context.WithTimeout(s.baseCtx, generateTestsTimeout)
	defer cancel()
	content, err := s.ws.GenerateTests(ctx, request)
	if err != nil {
		return s.sendResponse(msg.ID, nil)
	}
	return s.sendResponse(msg.ID, content)
}

func (s *Server) handleSaveFile(msg *rpcMessage) error {
	var params saveFileParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Filepath == "" {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	uri := params.Filepath
	if !strings.Contains(uri, "://") {
		uri = fileuri.FromPath(uri)
	}
	if err := s.ws.Persist(uri); err != nil {
		s.log.Error("saveFile failed", "uri", uri, "err", err)
		return s.sendError(msg.ID, codeRequestFailed, err.Error())
	}
	return s.sendResponse(msg.ID, nil)
}
