// Package language holds the table of supported languages and turns
// untrusted source text into the argument vector run inside a sandbox.
//
// The table is embedded from languages.yaml and frozen at startup into a
// Registry. Interpreted languages receive the source as a single argument;
// compiled languages embed it, escaped, in a shell template that writes the
// source file, compiles it, and runs the result.
package language
