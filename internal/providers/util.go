package providers

import (
	"encoding/base64"
	"sort"

	"github.com/haasonsaas/agentkit/pkg/models"
)

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// sortedDeclarations returns the tool declarations ordered by name so request
// encodings are deterministic across runs.
func sortedDeclarations(tools map[string]models.ToolDeclaration) []models.ToolDeclaration {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	decls := make([]models.ToolDeclaration, 0, len(names))
	for _, name := range names {
		decls = append(decls, tools[name])
	}
	return decls
}

// coalesceText folds consecutive text parts of a streamed turn into one part
// so the aggregated final content mirrors a non-streaming response.
func coalesceText(content *models.Content) *models.Content {
	if content == nil {
		return nil
	}
	out := &models.Content{Role: content.Role}
	var pending string
	flush := func() {
		if pending != "" {
			out.Parts = append(out.Parts, models.TextPart{Text: pending})
			pending = ""
		}
	}
	for _, part := range content.Parts {
		if tp, ok := part.(models.TextPart); ok {
			pending += tp.Text
			continue
		}
		flush()
		out.Parts = append(out.Parts, part)
	}
	flush()
	return out
}
