package lsp

import (
	"encoding/json"
	"log/slog"
)

func (s *Server) handleDidChangeConfiguration(msg *rpcMessage) error {
	if len(msg.Params) > 0 {
		var params didChangeConfigurationParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.applySettings(params.Settings)
		}
	}
	s.ws.RevalidateAll()
	return nil
}

// applySettings reads the baml section of the editor settings. Unknown or
// malformed settings are ignored.
func (s *Server) applySettings(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var settings lspSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		s.log.Debug("ignoring malformed settings", "err", err)
		return
	}
	if p := settings.BAML.Path; p != nil && s.cli != nil {
		s.cli.SetCommand(*p)
		s.log.Info("cli path updated", "path", *p)
	}
	if t := settings.BAML.Trace.Server; t != nil {
		s.mu.Lock()
		s.traceLSP = *t != "" && *t != "off"
		s.mu.Unlock()
		if s.level != nil {
			if *t == "verbose" {
				s.level.Set(min(s.baseLevel, slog.LevelDebug))
			} else {
				s.level.Set(s.baseLevel)
			}
		}
	}
}
