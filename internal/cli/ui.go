// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// terminalUI asks the user on the terminal. Prompts go to out so they do not
// mix with JSON printed on stdout.
type terminalUI struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalUI(in io.Reader, out io.Writer) *terminalUI {
	return &terminalUI{in: bufio.NewReader(in), out: out}
}

// SelectCard lists the candidates and reads a number. An empty line, q or
// end of input cancels the attempt.
func (u *terminalUI) SelectCard(ctx context.Context, hint *cardauth.MultiCardHint) (soap.Card, error) {
	color.New(color.FgCyan).Fprintf(u.out, "%d %s cards found:\n", len(hint.Cards), hint.CardType)
	for i, c := range hint.Cards {
		fmt.Fprintf(u.out, "  [%d] %s (terminal %s, slot %s)", i+1, c.CardHandle, c.CtID, c.SlotID)
		if c.CardHolderName != "" {
			fmt.Fprintf(u.out, " %s", c.CardHolderName)
		}
		fmt.Fprintln(u.out)
	}

	for {
		fmt.Fprintf(u.out, "Select card [1-%d], q to cancel: ", len(hint.Cards))
		line, err := u.readLine(ctx)
		if err != nil {
			return soap.Card{}, err
		}
		if line == "" || strings.EqualFold(line, "q") {
			return soap.Card{}, cardauth.ErrCancelled
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(hint.Cards) {
			color.New(color.FgYellow).Fprintf(u.out, "invalid selection %q\n", line)
			continue
		}
		return hint.Cards[n-1], nil
	}
}

// PromptPin tells the user to enter the PIN at the card terminal.
func (u *terminalUI) PromptPin(_ context.Context, prompt *errcodes.Error) error {
	msg := errcodes.Lookup(prompt.Code()).Description
	if d := prompt.Details(); d.Terminal != "" {
		msg = fmt.Sprintf("%s (terminal %s)", msg, d.Terminal)
	}
	color.New(color.FgCyan, color.Bold).Fprintln(u.out, msg)
	return nil
}

// Notify prints a hint or warning.
func (u *terminalUI) Notify(_ context.Context, notice *errcodes.Error) {
	c := color.New(color.FgCyan)
	if notice.Class() != errcodes.ClassHint {
		c = color.New(color.FgYellow)
	}
	c.Fprintf(u.out, "[%s] %s\n", notice.Code(), errcodes.Lookup(notice.Code()).Description)
}

func (u *terminalUI) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := u.in.ReadString('\n')
		ch <- result{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err == io.EOF {
			return r.line, nil
		}
		return r.line, r.err
	}
}
