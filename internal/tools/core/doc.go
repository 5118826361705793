// Package core provides the builtin filesystem tools.
//
// Every path-taking handler resolves its input through the boundary
// validator and performs I/O through the TOCTOU-safe read/write helpers;
// nothing in this package touches a path outside the execution context's
// project root.
//
// Tools:
//   - read_file: Read file contents
//   - write_file: Write content to a file
//   - edit_file: Edit a file with exact-string replacement
//   - delete_file: Delete a file
//   - list_dir: List directory contents
//   - grep: Search file contents with regex
//   - glob: Find files matching a pattern
package core
