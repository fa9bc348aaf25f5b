package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const envsListURI = "envs://list"

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         envsListURI,
		Name:        "environments",
		Description: "All persistent environments.",
		MIMEType:    "application/json",
	}, s.readEnvsList)
}

func (s *Server) readEnvsList(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	ids, err := s.envs.List()
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	data, err := json.Marshal(envsResult{Environments: ids})
	if err != nil {
		return nil, fmt.Errorf("encode environments: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      envsListURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
