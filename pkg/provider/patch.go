package provider

import (
	"strings"
)

// patchSystemPrompt constrains the model to emit a bare unified diff so the
// apply pipeline can feed it straight to git apply.
const patchSystemPrompt = `You are a code-change engine. Produce a single unified diff that implements the requested task.
Rules:
- Output only the diff, no prose and no code fences.
- Use git-style headers: --- a/<path> and +++ b/<path>.
- Touch only files the task requires.
- Keep hunks minimal and correct.`

// patchChatRequest renders a PatchRequest as the chat request every concrete
// client sends.
func patchChatRequest(req *PatchRequest) *ChatRequest {
	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(req.TaskID)
	sb.WriteString("\n")
	if req.Instructions != "" {
		sb.WriteString("\nInstructions:\n")
		sb.WriteString(req.Instructions)
		sb.WriteString("\n")
	}
	if req.Context != "" {
		sb.WriteString("\nContext:\n")
		sb.WriteString(req.Context)
		sb.WriteString("\n")
	}

	return &ChatRequest{
		Model:     req.Model,
		System:    patchSystemPrompt,
		MaxTokens: req.MaxTokens,
		Messages:  []ChatMessage{{Role: RoleUser, Content: sb.String()}},
	}
}

// parsePatchResponse strips code fences the model may have added anyway and
// collects changed files from the +++ headers.
func parsePatchResponse(resp *ChatResponse) *PatchResult {
	text := strings.TrimSpace(resp.Content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```diff")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	return &PatchResult{
		PatchText:    text,
		ChangedFiles: ChangedFilesFromPatch(text),
		Usage:        resp.Usage,
	}
}

// ChangedFilesFromPatch extracts the b-side paths from a unified diff
func ChangedFilesFromPatch(patch string) []string {
	var files []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(patch, "\n") {
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
		path = strings.TrimPrefix(path, "b/")
		if path == "" || path == "/dev/null" || seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	return files
}
