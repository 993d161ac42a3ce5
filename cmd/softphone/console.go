/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tejzpr/crm-softphone/calling"
	"github.com/tejzpr/crm-softphone/calllogs"
	"github.com/tejzpr/crm-softphone/transfers"
)

// phone is the part of *calling.Controller the console drives
type phone interface {
	Connect(ctx context.Context, identity, credential string)
	Disconnect()
	Call(target string)
	Answer()
	Reject()
	Hangup()
	ToggleMute()
	ToggleHold()
	Transfer(ctx context.Context, transferType transfers.Type)
	PressKey(key string)
	ApplyClipboardNumber(raw string) bool
	SetDialedNumber(number string)
	Backspace()
	SetTransferTarget(target string)
	ResetMissedCalls()
	SetPause(ctx context.Context, paused bool, reason string) error
	RefreshQueueState(ctx context.Context) error
	SetWrapUp(w calling.WrapUp)
	SaveCallLog(ctx context.Context, w calling.WrapUp) error
	State() calling.Snapshot
}

const consoleHelp = `commands:
  connect [identity] [credential]   register (defaults from config)
  disconnect
  dial <number>                     set the number to dial
  paste <text>                      take the dialable part of text
  back                              delete the last digit
  call [number]                     call number, or the dialed number
  answer | reject | hangup
  mute | hold                       toggle mute or hold
  key <digits>                      send DTMF
  transfer <target> [blind|attended]
  pause [reason] | unpause | queue
  note <text> | type <incoming|outgoing|missed> | script <branch id>
  disposition <text> | task         wrap-up for the call log
  save                              save the call log of the last call
  missed                            reset the missed call counter
  status | help | quit`

// console is a line-oriented front end over the controller
type console struct {
	phone      phone
	out        io.Writer
	identity   string
	credential string
	wrap       calling.WrapUp

	mu   sync.Mutex
	last calling.CallState
}

func newConsole(p phone, out io.Writer, identity, credential string) *console {
	return &console{phone: p, out: out, identity: identity, credential: credential}
}

// run reads commands from in until quit, EOF or ctx is done
func (c *console) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(c.out, "type help for commands")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if c.execute(ctx, line) {
				return nil
			}
		}
	}
}

// execute runs one command line and reports whether the console should quit
func (c *console) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.Join(args, " ")

	switch cmd {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "quit", "exit":
		return true
	case "connect":
		identity, credential := c.identity, c.credential
		if len(args) > 0 {
			identity = args[0]
		}
		if len(args) > 1 {
			credential = args[1]
		}
		c.phone.Connect(ctx, identity, credential)
	case "disconnect":
		c.phone.Disconnect()
	case "dial":
		c.phone.SetDialedNumber(rest)
	case "paste":
		if !c.phone.ApplyClipboardNumber(rest) {
			fmt.Fprintln(c.out, "nothing to paste")
		}
	case "back", "backspace":
		c.phone.Backspace()
	case "call":
		c.wrap = calling.WrapUp{}
		c.phone.Call(rest)
	case "answer":
		c.wrap = calling.WrapUp{}
		c.phone.Answer()
	case "reject":
		c.phone.Reject()
	case "hangup":
		c.phone.Hangup()
	case "mute":
		c.phone.ToggleMute()
	case "hold":
		c.phone.ToggleHold()
	case "key", "dtmf":
		for _, r := range strings.Join(args, "") {
			c.phone.PressKey(string(r))
		}
	case "transfer":
		c.transfer(ctx, args)
	case "pause":
		c.report(c.phone.SetPause(ctx, true, rest))
	case "unpause", "resume":
		c.report(c.phone.SetPause(ctx, false, ""))
	case "queue":
		c.report(c.phone.RefreshQueueState(ctx))
	case "note":
		c.wrap.Note = rest
		c.phone.SetWrapUp(c.wrap)
	case "type":
		c.wrap.CallType = calllogs.CallType(rest)
		c.phone.SetWrapUp(c.wrap)
	case "script":
		c.wrap.ScriptBranchID = rest
		c.phone.SetWrapUp(c.wrap)
	case "disposition":
		c.wrap.Disposition = rest
		c.phone.SetWrapUp(c.wrap)
	case "task":
		c.wrap.CreateTask = true
		c.phone.SetWrapUp(c.wrap)
	case "save":
		if err := c.phone.SaveCallLog(ctx, c.wrap); err != nil {
			c.report(err)
		} else {
			fmt.Fprintln(c.out, "call log saved")
			c.wrap = calling.WrapUp{}
		}
	case "missed":
		c.phone.ResetMissedCalls()
	case "status":
		c.printState(c.phone.State())
	default:
		fmt.Fprintf(c.out, "unknown command %q, type help\n", cmd)
	}
	return false
}

func (c *console) transfer(ctx context.Context, args []string) {
	kind := transfers.Type("")
	if n := len(args); n > 0 {
		if t := transfers.Type(strings.ToLower(args[n-1])); t.Valid() {
			kind = t
			args = args[:n-1]
		}
	}
	if target := strings.Join(args, " "); target != "" {
		c.phone.SetTransferTarget(target)
	}
	c.phone.Transfer(ctx, kind)
}

func (c *console) report(err error) {
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

func (c *console) printState(s calling.Snapshot) {
	st := s.Call
	fmt.Fprintf(c.out, "registration: %s (%s)\n", st.RegistrationPhase, st.RegistrationStatus)
	fmt.Fprintf(c.out, "call: %s", st.Phase)
	if st.CallActive {
		fmt.Fprintf(c.out, " %s", st.CallDuration)
	}
	if st.IncomingFrom != "" {
		fmt.Fprintf(c.out, " from %s", st.IncomingFrom)
	}
	if st.Muted {
		fmt.Fprint(c.out, " [muted]")
	}
	if st.OnHold {
		fmt.Fprint(c.out, " [on hold]")
	}
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "dialed: %q  transfer: %q  dtmf: %q  missed: %d\n",
		st.DialedNumber, st.TransferTarget, st.DTMFSequence, st.MissedCalls)
	if st.MicrophoneError {
		fmt.Fprintln(c.out, "microphone: unavailable")
	}
	paused := "no"
	if s.Queue.Paused {
		paused = "yes"
		if s.Queue.PauseReason != "" {
			paused += " (" + s.Queue.PauseReason + ")"
		}
	}
	fmt.Fprintf(c.out, "queue paused: %s\n", paused)
}

// onSnapshot prints status and phase changes as they happen
func (c *console) onSnapshot(s calling.Snapshot) {
	c.mu.Lock()
	prev := c.last
	c.last = s.Call
	c.mu.Unlock()

	if s.Call.RegistrationStatus != prev.RegistrationStatus && s.Call.RegistrationStatus != "" {
		fmt.Fprintf(c.out, "* %s\n", s.Call.RegistrationStatus)
	}
	if s.Call.Phase != prev.Phase {
		switch s.Call.Phase {
		case calling.PhaseRingingIn:
			fmt.Fprintf(c.out, "* incoming call from %s (answer/reject)\n", s.Call.IncomingFrom)
		default:
			fmt.Fprintf(c.out, "* call %s\n", s.Call.Phase)
		}
	}
}
