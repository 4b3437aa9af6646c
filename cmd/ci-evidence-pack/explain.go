package main

import (
	"fmt"
	"io"
	"strings"
)

func hasExplainFlag(arguments []string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == "--explain" {
			return true
		}
	}
	return false
}

func writeExplain(w io.Writer, text string) int {
	_, _ = fmt.Fprintln(w, text)
	return exitOK
}
