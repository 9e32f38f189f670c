package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"bamlls/internal/compiler"
	"bamlls/internal/diag"
	"bamlls/internal/fileuri"
	"bamlls/internal/metrics"
	"bamlls/internal/registry"
)

// Messages shown to the user.
const (
	msgNoRoot       = "Could not find a %s directory for %s"
	msgEmptyRoot    = "Unable to find BAML files in %s. Add a .baml file to %s to get started."
	msgBuildOK      = "Generated BAML client successfully!"
	msgBuildFailed  = "BAML client generation failed: %s"
	msgBuildOutputs = 2000
	msgTestsNoRoot  = "Could not find a %s directory for root path"
	msgTestsNoFiles = "Unable to find BAML files in %s."
)

// runValidation is the scheduler callback. key is either a document URI or
// the URI of a root directory.
func (w *Workspace) runValidation(ctx context.Context, key string) {
	path := fileuri.ToPath(key)
	root := path
	if !w.reg.Has(root) {
		var ok bool
		root, ok = w.resolver.Resolve(path)
		if !ok {
			w.log.Debug("validation skipped, no root", "uri", key)
			return
		}
	}
	w.validateRoot(ctx, root)
}

// validateRoot compiles every member of root and commits the result.
func (w *Workspace) validateRoot(ctx context.Context, root string) {
	// The token is taken before membership is read: a member added after
	// this point is covered by a run with a newer token.
	seq := w.docs.Seq()
	files, uriByPath := w.readMembers(root)
	if len(files) == 0 {
		w.markEmpty(root, seq)
		return
	}

	started := time.Now()
	res := w.adapter.Compile(ctx, root, files)
	if ctx.Err() != nil {
		return
	}
	w.metrics.Compiled(compileOutcome(res), time.Since(started))

	byURI := make(map[string][]diag.Diagnostic, len(files))
	for _, d := range res.Diagnostics {
		uri, ok := uriByPath[d.Path]
		if !ok {
			continue
		}
		byURI[uri] = append(byURI[uri], d)
	}

	lock := w.rootLock(root)
	lock.Lock()
	defer lock.Unlock()

	out := w.reg.Commit(root, registry.Commit{
		Seq:         seq,
		Model:       res.Model,
		Lines:       res.Lines,
		Diagnostics: byURI,
	})
	if !out.Applied {
		w.metrics.Discarded(string(out.Reason))
		w.log.Debug("compile result discarded", "root", root, "seq", seq, "reason", out.Reason)
		return
	}
	w.log.Debug("compile committed",
		"root", root,
		"seq", seq,
		"files", len(files),
		"diagnostics", len(res.Diagnostics),
		"cached", res.Cached,
		"took", time.Since(started),
	)
	w.publish(out.Publish)
	if out.Updated != nil {
		w.sink.ModelUpdated(root, out.Updated)
	}
	if out.ModelRemoved {
		w.sink.ModelRemoved(root)
	}
}

// readMembers returns the current text of every member of root: the editor
// text for open documents, the disk copy otherwise. Members missing on disk
// are skipped.
func (w *Workspace) readMembers(root string) ([]compiler.File, map[string]string) {
	members := w.reg.Members(root)
	open, _ := w.docs.Snapshot(members)

	files := make([]compiler.File, 0, len(members))
	uriByPath := make(map[string]string, len(members))
	for _, uri := range members {
		path := fileuri.ToPath(uri)
		var text string
		if doc, ok := open[uri]; ok {
			text = doc.Text
		} else {
			data, err := os.ReadFile(path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					w.log.Warn("failed to read member", "path", path, "err", err)
				}
				continue
			}
			text = string(data)
		}
		files = append(files, compiler.File{Path: path, Text: text})
		uriByPath[path] = uri
	}
	return files, uriByPath
}

func (w *Workspace) markEmpty(root string, seq uint64) {
	lock := w.rootLock(root)
	lock.Lock()
	defer lock.Unlock()

	out := w.reg.MarkEmpty(root, seq)
	for _, uri := range out.Cleared {
		w.sink.DiagnosticsUpdated(uri, nil)
	}
	if out.ModelRemoved {
		w.sink.ModelRemoved(root)
	}
	if out.Transition {
		w.metrics.Compiled(metrics.OutcomeEmpty, 0)
		w.log.Info("project has no files", "root", root)
		w.userMessage(diag.SevWarning, fmt.Sprintf(msgEmptyRoot, root, root))
	}
}

func (w *Workspace) publish(set map[string][]diag.Diagnostic) {
	uris := make([]string, 0, len(set))
	for uri := range set {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		w.sink.DiagnosticsUpdated(uri, set[uri])
	}
}

func compileOutcome(res compiler.Result) string {
	switch {
	case res.Fault:
		return metrics.OutcomeFault
	case res.Cached:
		return metrics.OutcomeCached
	case res.Model == nil:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeOK
	}
}

// runBuild is the build scheduler callback; key is a root path.
func (w *Workspace) runBuild(ctx context.Context, root string) {
	if w.builder == nil {
		return
	}
	output, err := w.builder.Build(ctx, root)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		w.log.Error("build failed", "root", root, "err", err)
		w.userMessage(diag.SevError, fmt.Sprintf(msgBuildFailed, clip(strings.TrimSpace(output), msgBuildOutputs, err)))
		return
	}
	w.log.Info("build finished", "root", root)
	w.userMessage(diag.SevInfo, msgBuildOK)
}

func clip(output string, limit int, err error) string {
	if output == "" {
		return err.Error()
	}
	if len(output) > limit {
		output = output[len(output)-limit:]
	}
	return output
}

// GenerateTests renders a test file for request from the current text of the
// most recently committed root.
func (w *Workspace) GenerateTests(ctx context.Context, request any) (string, error) {
	root, ok := w.reg.LastCommitted()
	if !ok {
		w.userMessage(diag.SevError, fmt.Sprintf(msgTestsNoRoot, w.resolver.Marker()))
		return "", fmt.Errorf("no project has been compiled yet")
	}
	files, _ := w.readMembers(root)
	if len(files) == 0 {
		w.log.Warn("generating tests for a root without files", "root", root)
		w.userMessage(diag.SevWarning, fmt.Sprintf(msgTestsNoFiles, root))
	}
	content, err := w.adapter.GenerateTests(ctx, root, files, request)
	if err != nil {
		w.log.Error("test generation failed", "root", root, "err", err)
		w.userMessage(diag.SevError, err.Error())
		return "", err
	}
	return content, nil
}
