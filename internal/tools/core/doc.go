// Package core provides the canonical built-in tool set: shell
// execution, file operations, search, git and the knowledge store
// bridge. Each tool is a plain tools.Tool value; sensitivity defaults
// here are what the approval gate classifies against.
package core
