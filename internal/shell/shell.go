// Package shell is the terminal front end: one prompt per input line, every
// exchange printed as it completes.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wuwenbin0122/docchat/internal/models"
	"github.com/wuwenbin0122/docchat/internal/session"
)

type TurnHandler interface {
	Handle(ctx context.Context, sess *session.Session, prompt string) (models.Turn, error)
}

type Shell struct {
	turns TurnHandler
	sess  *session.Session
	out   io.Writer
}

func New(turns TurnHandler, sess *session.Session, out io.Writer) *Shell {
	return &Shell{turns: turns, sess: sess, out: out}
}

// Run reads prompts until EOF, /quit or ctx is cancelled. A failed exchange
// is printed and the loop continues.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	s.printf("> ")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/reset":
			knowledge := s.sess.Knowledge()
			s.sess.Reset()
			s.sess.SetKnowledge(knowledge)
			s.printf("history cleared\n")
		case "/history":
			s.printHistory()
		default:
			turn, err := s.turns.Handle(ctx, s.sess, line)
			if err != nil {
				s.printf("error: %v\n", err)
			} else {
				s.printf("assistant: %s\n", turn.Assistant)
			}
		}
		s.printf("> ")
	}

	return scanner.Err()
}

func (s *Shell) printHistory() {
	turns := s.sess.Turns()
	if len(turns) == 0 {
		s.printf("no turns yet\n")
		return
	}
	for _, turn := range turns {
		s.printf("you: %s\nassistant: %s\n", turn.User, turn.Assistant)
	}
}

func (s *Shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}
