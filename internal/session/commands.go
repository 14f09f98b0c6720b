package session

import (
	"fmt"
	"strings"
)

// Command is one word of the operator vocabulary
type Command int

const (
	CmdConnect Command = iota + 1
	CmdCalibrate
	CmdStart
	CmdStop
	CmdHMD
	CmdHeadsetConnect    // "1"
	CmdHeadsetDisconnect // "2"
	CmdHMDExit           // "3"
	CmdExit
	CmdStatus
	CmdGUI
	CmdHelp
)

var commandWords = map[string]Command{
	"connect":   CmdConnect,
	"calibrate": CmdCalibrate,
	"start":     CmdStart,
	"stop":      CmdStop,
	"hmd":       CmdHMD,
	"1":         CmdHeadsetConnect,
	"2":         CmdHeadsetDisconnect,
	"3":         CmdHMDExit,
	"exit":      CmdExit,
	"status":    CmdStatus,
	"gui":       CmdGUI,
	"help":      CmdHelp,
}

func (c Command) String() string {
	for word, cmd := range commandWords {
		if cmd == c {
			return word
		}
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand maps free text to a command, case-insensitively
func ParseCommand(text string) (Command, bool) {
	cmd, ok := commandWords[strings.ToLower(strings.TrimSpace(text))]
	return cmd, ok
}

// Vocabulary lists the commands accepted by Dispatch
const Vocabulary = "connect, calibrate, start, stop, hmd, status, gui, help, exit"

const helpText = `Commands:
  connect    enumerate ports, wait for the front end's selection and open both insoles
  calibrate  calibrate the connected insoles
  start      run the exercise program from the first exercise
  stop       stop the running session
  hmd        headset menu (1 connect, 2 disconnect, 3 close)
  status     show session, link and device state
  gui        connect to the port-selection front end
  exit       stop everything and quit`

const hmdMenu = `HMD Menu:
1. Connect to HMD
2. Disconnect from HMD
3. Exit HMD Menu`

// Selection is the pair of ports chosen on the front end
type Selection struct {
	Left  string
	Right string
	// Extra holds identifiers beyond the first two; they are ignored
	Extra []string
}

// ParseSelection parses the front end's reply. Identifiers are separated by
// commas and/or whitespace; empty tokens are skipped. When offered is not
// empty every chosen identifier must be one of them.
func ParseSelection(text string, offered []string) (Selection, error) {
	ids := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
	if len(ids) < 2 {
		return Selection{}, fmt.Errorf("%w: got %q", ErrIncompleteSelection, strings.TrimSpace(text))
	}
	sel := Selection{Left: ids[0], Right: ids[1], Extra: ids[2:]}
	if sel.Left == sel.Right {
		return Selection{}, fmt.Errorf("%w: %s", ErrDuplicatePort, sel.Left)
	}
	if len(offered) > 0 {
		for _, id := range []string{sel.Left, sel.Right} {
			if !contains(offered, id) {
				return Selection{}, fmt.Errorf("%w: %s (offered %s)", ErrUnknownPort, id, strings.Join(offered, ","))
			}
		}
	}
	return sel, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
