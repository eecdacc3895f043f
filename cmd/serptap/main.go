package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/serptap/serptap/internal/domain"
)

// Exit codes: 0 success, 2 validation failure, 3 budget block, 1 anything else.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return 2
	}
	var be *domain.BudgetExceededError
	if errors.As(err, &be) {
		return 3
	}
	return 1
}
