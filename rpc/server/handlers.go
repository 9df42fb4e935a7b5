package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"strings"
	"time"
)

// registerDefaultHandlers registers the handlers of the built-in command types
func (s *CommandServer) registerDefaultHandlers() {
	s.HandleFunc(common.CmdTEcho, s.handleEcho)
	s.HandleFunc(common.CmdTSleep, handleSleep)
	s.HandleFunc(common.CmdTFail, handleFail)
}

func (s *CommandServer) handleEcho(cmd *common.Command) error {
	line := strings.Join(cmd.Args, " ")
	Logger.Infof("Rank %d echo: %s", s.channel.Rank(), line)
	_, err := fmt.Fprintf(s.out, "rank %d: %s\n", s.channel.Rank(), line)
	return err
}

func handleSleep(cmd *common.Command) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("sleep expects exactly one duration, got %d arguments", len(cmd.Args))
	}
	d, err := time.ParseDuration(cmd.Args[0])
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative duration %s", d)
	}
	time.Sleep(d)
	return nil
}

func handleFail(cmd *common.Command) error {
	reason := strings.Join(cmd.Args, " ")
	if reason == "" {
		reason = "failure requested by master"
	}
	return errors.New(reason)
}
