package utils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// AskForCode prompts on out until a valid session code is read from in
func AskForCode(ctx context.Context, in io.Reader, out io.Writer) (string, error) {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "Enter session code from server: ")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case code, ok := <-lines:
			if !ok {
				return "", fmt.Errorf("input closed before a session code was entered")
			}
			if IsValidCode(code) {
				return code, nil
			}
			fmt.Fprintln(out, "Invalid code. Please enter again.")
		}
	}
}
