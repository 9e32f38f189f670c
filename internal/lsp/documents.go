package lsp

import (
	"encoding/json"

	"bamlls/internal/fileuri"
	"bamlls/internal/workspace"
)

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didOpen params", "err", err)
		return nil
	}
	doc := params.TextDocument
	s.ws.Open(doc.URI, doc.LanguageID, doc.Text, doc.Version)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didChange params", "err", err)
		return nil
	}
	uri := fileuri.Canonical(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	text := ""
	if doc, ok := s.ws.Documents().Get(uri); ok {
		text = doc.Text
	}
	s.ws.Change(uri, applyChanges(text, params.ContentChanges))
	return nil
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didSave params", "err", err)
		return nil
	}
	uri := params.TextDocument.URI
	if params.Text != nil {
		if doc, ok := s.ws.Documents().Get(fileuri.Canonical(uri)); !ok || doc.Text != *params.Text {
			s.ws.Change(uri, *params.Text)
		}
	}
	s.ws.Save(uri)
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didClose params", "err", err)
		return nil
	}
	s.ws.Close(params.TextDocument.URI)
	return nil
}

func (s *Server) handleDidChangeWatchedFiles(msg *rpcMessage) error {
	var params didChangeWatchedFilesParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didChangeWatchedFiles params", "err", err)
		return nil
	}
	events := make([]workspace.FileEvent, 0, len(params.Changes))
	for _, change := range params.Changes {
		kind := workspace.FileChanged
		switch change.Type {
		case watchCreated:
			kind = workspace.FileCreated
		case watchDeleted:
			kind = workspace.FileDeleted
		}
		events = append(events, workspace.FileEvent{URI: change.URI, Kind: kind})
	}
	s.ws.FilesChanged(events)
	return nil
}

func (s *Server) handleDidCreateFiles(msg *rpcMessage) error {
	var params createFilesParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didCreateFiles params", "err", err)
		return nil
	}
	events := make([]workspace.FileEvent, 0, len(params.Files))
	for _, f := range params.Files {
		events = append(events, workspace.FileEvent{URI: f.URI, Kind: workspace.FileCreated})
	}
	s.ws.FilesChanged(events)
	return nil
}

func (s *Server) handleDidDeleteFiles(msg *rpcMessage) error {
	var params deleteFilesParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didDeleteFiles params", "err", err)
		return nil
	}
	events := make([]workspace.FileEvent, 0, len(params.Files))
	for _, f := range params.Files {
		events = append(events, workspace.FileEvent{URI: f.URI, Kind: workspace.FileDeleted})
	}
	s.ws.FilesChanged(events)
	return nil
}

func (s *Server) handleDidRenameFiles(msg *rpcMessage) error {
	var params renameFilesParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.log.Warn("invalid didRenameFiles params", "err", err)
		return nil
	}
	events := make([]workspace.FileEvent, 0, 2*len(params.Files))
	for _, f := range params.Files {
		events = append(events,
			workspace.FileEvent{URI: f.OldURI, Kind: workspace.FileDeleted},
			workspace.FileEvent{URI: f.NewURI, Kind: workspace.FileCreated},
		)
	}
	s.ws.FilesChanged(events)
	return nil
}
