package models

// ToolType is the closed classification of agent tools. Unrecognized names
// fall back to ToolTypeUnknown rather than failing.
type ToolType string

const (
	ToolTypeMCP           ToolType = "mcp"
	ToolTypeFileRead      ToolType = "file_read"
	ToolTypeFileWrite     ToolType = "file_write"
	ToolTypeFileEdit      ToolType = "file_edit"
	ToolTypeFileMultiEdit ToolType = "file_multi_edit"
	ToolTypeGlob          ToolType = "glob"
	ToolTypeGrep          ToolType = "grep"
	ToolTypeList          ToolType = "list"
	ToolTypeShell         ToolType = "shell"
	ToolTypeNotebookRead  ToolType = "notebook_read"
	ToolTypeNotebookEdit  ToolType = "notebook_edit"
	ToolTypeWebFetch      ToolType = "web_fetch"
	ToolTypeWebSearch     ToolType = "web_search"
	ToolTypeAgent         ToolType = "agent"
	ToolTypeTodoRead      ToolType = "todo_read"
	ToolTypeTodoWrite     ToolType = "todo_write"
	ToolTypeUnknown       ToolType = "unknown"
)

// FileAction describes what a file-operation tool did to a path.
type FileAction string

const (
	FileActionSearch FileAction = "search"
	FileActionList   FileAction = "list"
	FileActionRead   FileAction = "read"
	FileActionCreate FileAction = "create"
	FileActionEdit   FileAction = "edit"
	FileActionDelete FileAction = "delete"
)
