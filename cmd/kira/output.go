package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/werserk/kira/internal/types"
)

// Stable exit codes, part of the CLI contract.
const (
	exitOK         = 0
	exitValidation = 2
	exitConflict   = 3
	exitGuard      = 4
	exitIO         = 5
	exitConfig     = 6
	exitUnknown    = 7
)

// configError marks failures during settings load so they map to exit 6.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// exitCode maps the error taxonomy onto the stable exit codes.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var (
		validationErr *types.ValidationError
		duplicateErr  *types.DuplicateIDError
		guardErr      *types.FSMGuardError
		invalidErr    *types.InvalidTransitionError
		commitErr     *types.CommitFailedError
		cfgErr        *configError
	)
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &validationErr), errors.Is(err, types.ErrMalformed):
		return exitValidation
	case errors.As(err, &duplicateErr), errors.Is(err, types.ErrNotFound):
		return exitConflict
	case errors.As(err, &guardErr), errors.As(err, &invalidErr):
		return exitGuard
	case errors.Is(err, types.ErrLocked), errors.Is(err, types.ErrCorrupt), errors.As(err, &commitErr):
		return exitIO
	default:
		return exitUnknown
	}
}

// printSuccess emits the success envelope in JSON mode, or the human lines.
func (a *app) printSuccess(data any, meta map[string]any, human func()) {
	if a.jsonOut {
		if meta == nil {
			meta = map[string]any{}
		}
		envelope := map[string]any{
			"status":   "success",
			"trace_id": a.traceID,
			"data":     data,
			"meta":     meta,
		}
		out, _ := json.Marshal(envelope)
		fmt.Println(string(out))
		return
	}
	if human != nil {
		human()
	}
}

// printError emits the error envelope (JSON mode) or the ❌ line.
func (a *app) printError(err error, code int) {
	if a.jsonOut {
		envelope := map[string]any{
			"status":   "error",
			"trace_id": a.traceID,
			"error":    err.Error(),
			"meta":     map[string]any{"exit_code": code},
		}
		out, _ := json.Marshal(envelope)
		fmt.Println(string(out))
		return
	}
	fmt.Fprintf(os.Stderr, "❌ %s\n", err.Error())
	if a.verbose {
		fmt.Fprintf(os.Stderr, "trace_id: %s\n", a.traceID)
	}
}
