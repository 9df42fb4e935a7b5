package worker

import (
	"errors"
	"github.com/ValentinKolb/dCMD/cmd/util"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"time"
)

var (
	Logger = util.Logger

	workerConfig = &common.WorkerConfig{}

	// WorkerCmd starts a worker of a job
	WorkerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Start a worker and execute the commands of the master",
		Long: `Start a worker with the given rank. The worker joins the master, executes commands until it receives an exit command and reports every failure to the master.
The configuration can be set via command line flags or environment variables. The format of the environment variables is DCMD_<flag> (e.g. DCMD_RANK=1), the launcher variables RANK, MASTER_ADDR and MASTER_PORT are honored as well.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupChannelFlags(WorkerCmd)

	// add flags
	key := "rank"
	WorkerCmd.PersistentFlags().Int(key, 0, util.WrapString("Rank of this worker in [1, WORLD_SIZE) (env: RANK or DCMD_RANK)"))

	key = "master-addr"
	WorkerCmd.PersistentFlags().String(key, "127.0.0.1", util.WrapString("Address of the master (only for tcp, env: MASTER_ADDR or DCMD_MASTER_ADDR)"))

	key = "exit-linger"
	WorkerCmd.PersistentFlags().Duration(key, 30*time.Second, util.WrapString("How long to keep the connection open after the exit command, so the master can finish sending to the other workers"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetWorkerConfig()
	if err != nil {
		return err
	}
	*workerConfig = *conf

	return common.InitLoggers(workerConfig.LogLevel)
}

// run joins the master and serves commands
func run(_ *cobra.Command, _ []string) error {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	channel, err := util.NewWorkerChannel(*workerConfig)
	if err != nil {
		return err
	}
	defer channel.Close()

	Logger.Infof("Starting worker")
	Logger.Infof("%s", workerConfig.String())

	if err := channel.Init(); err != nil {
		return err
	}

	err = server.NewCommandServer(channel, s).Serve()
	if err != nil {
		if errors.Is(err, server.ErrCommandFailed) {
			Logger.Errorf("Rank %d stopped after a failed command", workerConfig.Rank)
		}
		return err
	}

	util.LingerUntilMasterCloses(channel, viper.GetDuration("exit-linger"))
	return nil
}
