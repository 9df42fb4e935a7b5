package master

import (
	"bufio"
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"io"
	"strconv"
	"strings"
	"time"
)

// allRanks addresses every worker of the job
const allRanks = "*"

// step is a single line of a command script
type step struct {
	line int
	all  bool
	rank common.Rank
	cmd  *common.Command
}

// commandSender is the part of the client a script needs
type commandSender interface {
	Send(rank common.Rank, cmd *common.Command) error
	Broadcast(cmd *common.Command) error
}

// parseScript reads a command script. Every non-empty line that does not start
// with # has the form
//
//	RANK CMD [ARGS...]
//
// where RANK is a worker rank or * for every worker and CMD is one of
// echo, sleep, fail, exit or custom. The arguments of custom are sent as payload.
func parseScript(r io.Reader) ([]step, error) {
	var steps []step

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		s, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		s.line = lineNo
		steps = append(steps, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return steps, nil
}

func parseLine(line string) (step, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return step{}, fmt.Errorf("expected RANK CMD [ARGS...], got %q", line)
	}

	var s step
	if fields[0] == allRanks {
		s.all = true
	} else {
		rank, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return step{}, fmt.Errorf("invalid rank %q", fields[0])
		}
		s.rank = common.Rank(rank)
	}

	cmdType, err := common.ParseCommandType(strings.ToLower(fields[1]))
	if err != nil {
		return step{}, err
	}
	args := fields[2:]

	switch cmdType {
	case common.CmdTEcho:
		s.cmd = common.NewEchoCommand(args...)
	case common.CmdTSleep:
		if len(args) != 1 {
			return step{}, fmt.Errorf("sleep expects one duration")
		}
		if _, err := time.ParseDuration(args[0]); err != nil {
			return step{}, err
		}
		s.cmd = common.NewSleepCommand(args[0])
	case common.CmdTFail:
		s.cmd = common.NewFailCommand(strings.Join(args, " "))
	case common.CmdTExit:
		s.cmd = common.NewExitCommand()
	case common.CmdTCustom:
		s.cmd = common.NewCustomCommand([]byte(strings.Join(args, " ")))
	}

	return s, nil
}

// runScript sends the steps in order and stops at the first error
func runScript(c commandSender, steps []step) error {
	for _, s := range steps {
		var err error
		if s.all {
			err = c.Broadcast(s.cmd)
		} else {
			err = c.Send(s.rank, s.cmd)
		}
		if err != nil {
			return fmt.Errorf("line %d (%s): %w", s.line, s.cmd.CmdType, err)
		}
		Logger.Debugf("Line %d: sent %s", s.line, s.cmd.CmdType)
	}
	return nil
}
