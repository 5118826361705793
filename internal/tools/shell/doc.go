// Package shell provides the builtin command-execution tools.
//
// Commands are executed directly, never through a shell: the command
// validator rejects interpreter binaries outright, and arguments are
// scanned for path escapes before anything is spawned.
//
// Tools:
//   - run_command: Execute an allowlisted program
//   - git: Run a git subcommand inside the project root
package shell
