package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/p-arndt/pyexec/internal/environment"
	"github.com/p-arndt/pyexec/protocol"
)

type CreateEnvInput struct {
	EnvID    string   `json:"env_id" jsonschema:"identifier of the environment; letters, digits, '-' and '_' are kept"`
	Packages []string `json:"packages,omitempty" jsonschema:"packages to install right after creation"`
}

type ExecuteInput struct {
	EnvID    string   `json:"env_id,omitempty" jsonschema:"environment to run in; defaults to the session environment"`
	Code     string   `json:"code,omitempty" jsonschema:"Python source to write before running; omit to run an existing file"`
	Filename string   `json:"filename,omitempty" jsonschema:"file to write and run, relative to the environment (default main.py)"`
	Packages []string `json:"packages,omitempty" jsonschema:"packages to add before running"`
}

type WriteFileInput struct {
	EnvID    string `json:"env_id,omitempty" jsonschema:"target environment; defaults to the session environment"`
	Filename string `json:"filename" jsonschema:"path relative to the environment"`
	Content  string `json:"content" jsonschema:"text content to write"`
}

type FileInput struct {
	EnvID    string `json:"env_id,omitempty" jsonschema:"environment holding the file; defaults to the session environment"`
	Filename string `json:"filename" jsonschema:"path relative to the environment"`
}

type SessionEnvInput struct {
	EnvID string `json:"env_id,omitempty" jsonschema:"environment; defaults to the session environment"`
}

type EnvInput struct {
	EnvID string `json:"env_id" jsonschema:"identifier of the environment"`
}

type PackagesInput struct {
	EnvID    string   `json:"env_id" jsonschema:"identifier of the environment"`
	Packages []string `json:"packages" jsonschema:"package specifiers such as numpy or pandas"`
}

type HistoryInput struct {
	EnvID string `json:"env_id" jsonschema:"identifier of the environment"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of invocations to return (default 50)"`
}

type ListEnvsInput struct{}

type statusResult struct {
	Status    string   `json:"status"`
	EnvID     string   `json:"env_id"`
	Installed []string `json:"installed,omitempty"`
	Removed   []string `json:"removed,omitempty"`
}

type filesResult struct {
	EnvID string   `json:"env_id"`
	Files []string `json:"files"`
}

type filePathResult struct {
	EnvID        string `json:"env_id"`
	Filename     string `json:"filename"`
	AbsolutePath string `json:"absolute_path"`
}

type packagesResult struct {
	EnvID    string             `json:"env_id"`
	Packages []protocol.Package `json:"packages"`
}

type envsResult struct {
	Environments []string `json:"environments"`
}

type historyResult struct {
	EnvID       string                 `json:"env_id"`
	Invocations []*protocol.Invocation `json:"invocations"`
}

// sessionEnvID returns raw, or the id of the environment bound to the
// calling session when raw is empty.
func sessionEnvID(req *mcp.CallToolRequest, raw string) (string, error) {
	if raw != "" {
		return raw, nil
	}
	if req != nil && req.Session != nil {
		if id := req.Session.ID(); id != "" {
			return "session-" + id, nil
		}
	}
	return "", fmt.Errorf("%w: env_id is required when the connection has no session id", environment.ErrInvalidIdentifier)
}

func (s *Server) registerTools() {
	addTool(s, &mcp.Tool{
		Name:        "create_env",
		Description: "Create a persistent Python environment, optionally installing packages. Reports already_exists for an existing environment.",
	}, s.createEnv)

	addTool(s, &mcp.Tool{
		Name:        "execute_python",
		Description: "Run Python code in an environment. Writes code to filename (default main.py) and runs it; fails when the program exits non-zero.",
	}, s.executePython)

	addTool(s, &mcp.Tool{
		Name:        "write_file",
		Description: "Write a text file into an environment, creating parent directories.",
	}, s.writeFile)

	addTool(s, &mcp.Tool{
		Name:        "read_file",
		Description: "Read a file from an environment. Images are returned as image content; other files as JSON with type text or binary (base64).",
	}, s.readFile)

	addTool(s, &mcp.Tool{
		Name:        "present_file",
		Description: "Show a generated file to the user. Same as read_file.",
	}, s.readFile)

	addTool(s, &mcp.Tool{
		Name:        "list_files",
		Description: "List the files of an environment, excluding .venv and .git.",
	}, s.listFiles)

	addTool(s, &mcp.Tool{
		Name:        "get_file_path",
		Description: "Return the absolute path of an existing file in an environment.",
	}, s.getFilePath)

	addTool(s, &mcp.Tool{
		Name:        "install_packages",
		Description: "Add packages to an environment.",
	}, s.installPackages)

	addTool(s, &mcp.Tool{
		Name:        "remove_packages",
		Description: "Remove packages from an environment.",
	}, s.removePackages)

	addTool(s, &mcp.Tool{
		Name:        "list_packages",
		Description: "List the packages installed in an environment.",
	}, s.listPackages)

	addTool(s, &mcp.Tool{
		Name:        "list_envs",
		Description: "List all persistent environments.",
	}, s.listEnvs)

	addTool(s, &mcp.Tool{
		Name:        "delete_env",
		Description: "Delete an environment and all of its files.",
	}, s.deleteEnv)

	addTool(s, &mcp.Tool{
		Name:        "env_history",
		Description: "Show the most recent uv invocations recorded for an environment.",
	}, s.envHistory)
}

func (s *Server) createEnv(ctx context.Context, _ *mcp.CallToolRequest, in CreateEnvInput) (*mcp.CallToolResult, error) {
	res, err := s.envs.Create(ctx, in.EnvID, in.Packages)
	if err != nil {
		return nil, err
	}
	return jsonResult(res)
}

func (s *Server) executePython(ctx context.Context, req *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, error) {
	envID, err := sessionEnvID(req, in.EnvID)
	if err != nil {
		return nil, err
	}
	res, err := s.envs.Execute(ctx, envID, environment.ExecRequest{
		Code:     in.Code,
		Filename: in.Filename,
		Packages: in.Packages,
	})
	if err != nil {
		return nil, err
	}
	return jsonResult(res)
}

func (s *Server) writeFile(ctx context.Context, req *mcp.CallToolRequest, in WriteFileInput) (*mcp.CallToolResult, error) {
	envID, err := sessionEnvID(req, in.EnvID)
	if err != nil {
		return nil, err
	}
	res, err := s.envs.Write(ctx, envID, in.Filename, in.Content)
	if err != nil {
		return nil, err
	}
	return jsonResult(res)
}

func (s *Server) readFile(ctx context.Context, req *mcp.CallToolRequest, in FileInput) (*mcp.CallToolResult, error) {
	envID, err := sessionEnvID(req, in.EnvID)
	if err != nil {
		return nil, err
	}
	f, err := s.envs.Read(ctx, envID, in.Filename)
	if err != nil {
		return nil, err
	}
	if f.Kind == protocol.KindImage {
		mimeType := f.MIMEType
		if mimeType == "" {
			mimeType = protocol.DefaultImageMIME
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.ImageContent{Data: f.Data, MIMEType: mimeType}},
		}, nil
	}
	// Binary payloads are base64 in the JSON encoding of File.
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode file: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func (s *Server) listFiles(ctx context.Context, req *mcp.CallToolRequest, in SessionEnvInput) (*mcp.CallToolResult, error) {
	envID, err := sessionEnvID(req, in.EnvID)
	if err != nil {
		return nil, err
	}
	id, files, err := s.envs.ListFiles(ctx, envID)
	if err != nil {
		return nil, err
	}
	return jsonResult(filesResult{EnvID: id, Files: files})
}

func (s *Server) getFilePath(ctx context.Context, req *mcp.CallToolRequest, in FileInput) (*mcp.CallToolResult, error) {
	envID, err := sessionEnvID(req, in.EnvID)
	if err != nil {
		return nil, err
	}
	id, path, err := s.envs.FilePath(ctx, envID, in.Filename)
	if err != nil {
		return nil, err
	}
	return jsonResult(filePathResult{EnvID: id, Filename: in.Filename, AbsolutePath: path})
}

func (s *Server) installPackages(ctx context.Context, _ *mcp.CallToolRequest, in PackagesInput) (*mcp.CallToolResult, error) {
	id, err := s.envs.Install(ctx, in.EnvID, in.Packages)
	if err != nil {
		return nil, err
	}
	return jsonResult(statusResult{Status: "success", EnvID: id, Installed: in.Packages})
}

func (s *Server) removePackages(ctx context.Context, _ *mcp.CallToolRequest, in PackagesInput) (*mcp.CallToolResult, error) {
	id, err := s.envs.Remove(ctx, in.EnvID, in.Packages)
	if err != nil {
		return nil, err
	}
	return jsonResult(statusResult{Status: "success", EnvID: id, Removed: in.Packages})
}

func (s *Server) listPackages(ctx context.Context, _ *mcp.CallToolRequest, in EnvInput) (*mcp.CallToolResult, error) {
	id, pkgs, err := s.envs.ListPackages(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}
	return jsonResult(packagesResult{EnvID: id, Packages: pkgs})
}

func (s *Server) listEnvs(_ context.Context, _ *mcp.CallToolRequest, _ ListEnvsInput) (*mcp.CallToolResult, error) {
	ids, err := s.envs.List()
	if err != nil {
		return nil, err
	}
	return jsonResult(envsResult{Environments: ids})
}

func (s *Server) deleteEnv(ctx context.Context, _ *mcp.CallToolRequest, in EnvInput) (*mcp.CallToolResult, error) {
	id, err := s.envs.Delete(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}
	return jsonResult(statusResult{Status: "deleted", EnvID: id})
}

func (s *Server) envHistory(ctx context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, error) {
	id, invs, err := s.envs.History(ctx, in.EnvID, in.Limit)
	if err != nil {
		return nil, err
	}
	return jsonResult(historyResult{EnvID: id, Invocations: invs})
}
