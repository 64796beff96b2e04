package language

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Placeholder marks where the escaped source goes in an invocation template.
// It must sit inside a single-quoted shell word.
const Placeholder = "{{code}}"

// MaxArgBytes is the largest single argument the Linux kernel accepts at
// exec (MAX_ARG_STRLEN, 32 pages, less the terminating NUL).
const MaxArgBytes = 32*4096 - 1

// ErrSourceTooLarge is returned by Build when the argument carrying the
// source would not fit in one exec argument inside the sandbox.
var ErrSourceTooLarge = errors.New("source too large")

var singleQuoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `'"'"'`,
)

// EscapeSingleQuoted prepares text for placement between single quotes in a
// POSIX shell word. Backslashes are doubled and each single quote closes the
// quoted run, emits a double-quoted quote, and reopens it, so the result can
// never terminate the surrounding literal.
//
// The doubling is undone by printf's %b conversion in the templates, which
// restores the original bytes in the source file.
func EscapeSingleQuoted(text string) string {
	return singleQuoteEscaper.Replace(text)
}

// Build returns the argument vector to run inside the sandbox for code.
//
// Interpreted languages get code appended verbatim as one argument; no shell
// ever sees it. Compiled languages get the template, with the escaped code
// substituted, as the single argument to the entrypoint shell. Either way
// the source travels in one exec argument, so Build fails with
// ErrSourceTooLarge once that argument exceeds MaxArgBytes.
func Build(spec Spec, code string) ([]string, error) {
	arg := code
	if spec.Compiled() {
		arg = strings.Replace(spec.Template, Placeholder, EscapeSingleQuoted(code), 1)
	}

	if len(arg) > MaxArgBytes {
		return nil, fmt.Errorf("%w: %d bytes submitted, the %s invocation allows at most %d bytes",
			ErrSourceTooLarge, len(code), spec.ID, MaxArgBytes-(len(arg)-len(code)))
	}

	return append(slices.Clone(spec.Entrypoint), arg), nil
}
