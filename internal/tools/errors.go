package tools

import (
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/p-arndt/pyexec/internal/environment"
)

// Error codes prefixed to every tool error
const (
	CodeOK                     = "OK"
	CodeInvalidIdentifier      = "INVALID_IDENTIFIER"
	CodePathTraversal          = "PATH_TRAVERSAL"
	CodeEnvironmentNotFound    = "ENVIRONMENT_NOT_FOUND"
	CodeInitializationFailed   = "INITIALIZATION_FAILED"
	CodeDependencyInstall      = "DEPENDENCY_INSTALL_FAILED"
	CodeDependencyRemove       = "DEPENDENCY_REMOVE_FAILED"
	CodePackageListFailed      = "PACKAGE_LIST_FAILED"
	CodePackageListParseFailed = "PACKAGE_LIST_PARSE_FAILED"
	CodeFileNotFound           = "FILE_NOT_FOUND"
	CodeFileTooLarge           = "FILE_TOO_LARGE"
	CodeExecutionFailed        = "EXECUTION_FAILED"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeInternalError          = "INTERNAL_ERROR"
)

var codeTable = []struct {
	err  error
	code string
}{
	{environment.ErrInvalidIdentifier, CodeInvalidIdentifier},
	{environment.ErrPathTraversal, CodePathTraversal},
	{environment.ErrEnvironmentNotFound, CodeEnvironmentNotFound},
	{environment.ErrInitializationFailed, CodeInitializationFailed},
	{environment.ErrDependencyInstallFailed, CodeDependencyInstall},
	{environment.ErrDependencyRemoveFailed, CodeDependencyRemove},
	{environment.ErrPackageListFailed, CodePackageListFailed},
	{environment.ErrPackageListParseFailed, CodePackageListParseFailed},
	{environment.ErrFileNotFound, CodeFileNotFound},
	{environment.ErrFileTooLarge, CodeFileTooLarge},
	{environment.ErrExecutionFailed, CodeExecutionFailed},
	{environment.ErrNoPackages, CodeInvalidRequest},
	{environment.ErrHistoryDisabled, CodeInvalidRequest},
}

// ErrorCode maps err to its stable code.
func ErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternalError
}

// errorResult renders err as a tool error. A failed execution also carries
// the program's stdout.
func errorResult(code string, err error) *mcp.CallToolResult {
	content := []mcp.Content{&mcp.TextContent{Text: code + ": " + err.Error()}}

	var cmdErr *environment.CommandError
	if errors.As(err, &cmdErr) && errors.Is(err, environment.ErrExecutionFailed) {
		if out := strings.TrimSpace(cmdErr.Stdout); out != "" {
			content = append(content, &mcp.TextContent{Text: "stdout:\n" + out})
		}
	}
	return &mcp.CallToolResult{IsError: true, Content: content}
}
