package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"bamlls/internal/diag"
	"bamlls/internal/model"
	"bamlls/internal/source"
)

// Codec names accepted by Exec.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Exec runs an external compiler process once per compile. The request is
// written to stdin and the response read from stdout.
type Exec struct {
	Command string
	Args    []string
	Codec   string
	Timeout time.Duration
}

// Request modes understood by the compiler process. An empty mode compiles.
const (
	modeCompile       = ""
	modeGenerateTests = "generate_tests"
)

type execRequest struct {
	Mode        string `json:"mode,omitempty" msgpack:"mode,omitempty"`
	RootPath    string `json:"root_path" msgpack:"root_path"`
	Files       []File `json:"files" msgpack:"files"`
	TestRequest any    `json:"test_request,omitempty" msgpack:"test_request,omitempty"`
}

type execDiagnostic struct {
	Severity string `json:"severity" msgpack:"severity"`
	Code     string `json:"code,omitempty" msgpack:"code,omitempty"`
	Message  string `json:"message" msgpack:"message"`
	Path     string `json:"path" msgpack:"path"`
	Start    int    `json:"start" msgpack:"start"`
	End      int    `json:"end" msgpack:"end"`
}

type execResponse struct {
	Diagnostics []execDiagnostic `json:"diagnostics" msgpack:"diagnostics"`
	Model       *model.Data      `json:"model" msgpack:"model"`
}

type execTestsResponse struct {
	Content string `json:"content" msgpack:"content"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Compile implements Compiler.
func (e *Exec) Compile(ctx context.Context, root string, files []File) (Output, error) {
	var resp execResponse
	if err := e.call(ctx, execRequest{Mode: modeCompile, RootPath: root, Files: files}, &resp); err != nil {
		return Output{}, err
	}
	out := Output{Diagnostics: make([]diag.Diagnostic, 0, len(resp.Diagnostics))}
	for _, d := range resp.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, diag.Diagnostic{
			Severity: diag.ParseSeverity(d.Severity),
			Code:     d.Code,
			Message:  d.Message,
			Path:     d.Path,
			Span:     source.NewSpan(d.Start, d.End),
		})
	}
	if resp.Model != nil {
		data := *resp.Model
		if data.Root == "" {
			data.Root = root
		}
		out.Model = model.New(data)
	}
	return out, nil
}

// GenerateTests implements TestGenerator.
func (e *Exec) GenerateTests(ctx context.Context, root string, files []File, request any) (string, error) {
	var resp execTestsResponse
	req := execRequest{Mode: modeGenerateTests, RootPath: root, Files: files, TestRequest: request}
	if err := e.call(ctx, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("test generation failed: %s", resp.Error)
	}
	return resp.Content, nil
}

// call runs the compiler process once with req on stdin and decodes its
// stdout into resp.
func (e *Exec) call(ctx context.Context, req execRequest, resp any) error {
	if e.Command == "" {
		return fmt.Errorf("compiler command is empty")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	payload, err := e.encode(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", req.kind(), err)
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Dir = req.RootPath
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", e.Command, err, msg)
		}
		return fmt.Errorf("%s: %w", e.Command, err)
	}
	if err := e.decode(stdout.Bytes(), resp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.kind(), err)
	}
	return nil
}

func (r execRequest) kind() string {
	if r.Mode == modeCompile {
		return "compile"
	}
	return r.Mode
}

func (e *Exec) encode(v any) ([]byte, error) {
	switch e.codec() {
	case CodecMsgpack:
		return msgpack.Marshal(v)
	default:
		return json.Marshal(v)
	}
}

func (e *Exec) decode(b []byte, v any) error {
	switch e.codec() {
	case CodecMsgpack:
		return msgpack.Unmarshal(b, v)
	default:
		return json.Unmarshal(b, v)
	}
}

func (e *Exec) codec() string {
	if strings.EqualFold(e.Codec, CodecMsgpack) {
		return CodecMsgpack
	}
	return CodecJSON
}
