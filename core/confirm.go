package core

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// ConfirmPrompt is shown when an interrupt asks whether to terminate.
const ConfirmPrompt = "Terminate workflow execution? (y/N after 1 min.): "

// Answer is the outcome of a confirmation request.
type Answer int

const (
	// AnswerNo means the user declined.
	AnswerNo Answer = iota
	// AnswerYes means the user confirmed.
	AnswerYes
	// AnswerTimeout means no answer arrived in time.
	AnswerTimeout
)

func (a Answer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerTimeout:
		return "timeout"
	default:
		return "no"
	}
}

// Confirm asks prompt on out and waits up to timeout for a line on in.
// The read happens on its own goroutine and is abandoned on timeout; the
// slot is buffered so the reader never blocks after the caller has left.
func Confirm(in io.Reader, out io.Writer, prompt string, timeout time.Duration) Answer {
	answer := make(chan string, 1)
	go func() {
		if out != nil {
			_, _ = fmt.Fprint(out, prompt)
		}
		if in == nil {
			return
		}
		// A closed input yields an empty line, which reads as "no".
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer <- line
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-answer:
		if parseAnswer(line) {
			return AnswerYes
		}
		return AnswerNo
	case <-timer.C:
		return AnswerTimeout
	}
}

func parseAnswer(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
