package common

import (
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestErrorReportString(t *testing.T) {
	r := ErrorReport{Rank: 3, Text: "disk full", Kind: ReportKindWorker}
	assert.Equal(t, "error (rank 3): disk full", r.String())
	assert.Equal(t, "hangup", ReportKindHangup.String())
	assert.Equal(t, "unknown(42)", ReportKind(42).String())
}

func TestParseCommandType(t *testing.T) {
	for ct := CmdTEcho; ct <= CmdTCustom; ct++ {
		parsed, err := ParseCommandType(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, parsed)
	}

	_, err := ParseCommandType("unknown")
	assert.Error(t, err)
	_, err = ParseCommandType("reboot")
	assert.Error(t, err)
}

func TestCommandTypeJSON(t *testing.T) {
	data, err := json.Marshal(NewSleepCommand("1s"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd_type":"sleep","args":["1s"]}`, string(data))

	var cmd Command
	require.NoError(t, json.Unmarshal(data, &cmd))
	assert.Equal(t, CmdTSleep, cmd.CmdType)

	assert.Error(t, json.Unmarshal([]byte(`{"cmd_type":"reboot"}`), &cmd))
	assert.Error(t, json.Unmarshal([]byte(`{"cmd_type":4}`), &cmd))
}

func TestRawMessage(t *testing.T) {
	var msg Message = RawMessage("abc")
	assert.Equal(t, 3, msg.Len())
	assert.Equal(t, []byte("abc"), msg.Bytes())
}

func TestMasterConfig(t *testing.T) {
	c := MasterConfig{WorldSize: 4, Endpoint: "127.0.0.1:29500"}
	require.NoError(t, c.Validate())
	assert.Equal(t, 500*time.Millisecond, c.PollInterval())

	c.PollIntervalMillisecond = 20
	assert.Equal(t, 20*time.Millisecond, c.PollInterval())
	assert.Contains(t, c.String(), "127.0.0.1:29500")

	assert.Error(t, (&MasterConfig{Endpoint: "x"}).Validate())
	assert.Error(t, (&MasterConfig{WorldSize: 2}).Validate())
	assert.Error(t, (&MasterConfig{WorldSize: 2, Endpoint: "x", SetupTimeoutSecond: -1}).Validate())
}

func TestWorkerConfig(t *testing.T) {
	c := WorkerConfig{Rank: 2, MasterEndpoint: "10.0.0.1:29500"}
	require.NoError(t, c.Validate())
	assert.Contains(t, c.String(), "10.0.0.1:29500")

	assert.Error(t, (&WorkerConfig{Rank: MasterRank, MasterEndpoint: "x"}).Validate())
	assert.Error(t, (&WorkerConfig{Rank: 1}).Validate())
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "", "warn", "error"} {
		_, err := ParseLogLevel(level)
		assert.NoError(t, err, level)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("verbose"))
	assert.NoError(t, InitLoggers("error"))
}
