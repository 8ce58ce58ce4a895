package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	_ "github.com/leeineian/haruka/home"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
	"github.com/spf13/cobra"
)

const (
	clientAttempts   = 5
	clientRetryDelay = 5 * time.Second
	selfTestTimeout  = 5 * time.Minute
)

var (
	silent   bool
	skipReg  bool
	forceReg bool
)

var rootCmd = &cobra.Command{
	Use:           "haruka",
	Short:         "Discord music bot with a web dashboard",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var selfTestCmd = &cobra.Command{
	Use:   "selftest <video-id>",
	Short: "Resolve and transcode one video without connecting to Discord",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sys.LoadOfflineConfig()
		if err != nil {
			return err
		}
		sys.InitLogger(silent, cfg.LogFile)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, selfTestTimeout)
		defer cancelTimeout()

		t, url, err := proc.SelfTest(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "title:    %s\n", t.Title)
		fmt.Fprintf(out, "channel:  %s\n", t.Channel)
		fmt.Fprintf(out, "duration: %s\n", source.FormatDuration(t.Duration))
		fmt.Fprintf(out, "audio:    %s\n", url)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		version := "(devel)"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sys.GetProjectName(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "Disable all log output")
	rootCmd.Flags().BoolVar(&skipReg, "skip-reg", false, "Skip command registration")
	rootCmd.Flags().BoolVar(&forceReg, "force-reg", false, "Register commands even if unchanged")
	rootCmd.AddCommand(selfTestCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		sys.LogFatal("%v", err)
	}
}

func run() error {
	cfg, err := sys.LoadConfig()
	if err != nil {
		return err
	}
	sys.InitLogger(silent || cfg.Silent, cfg.LogFile)

	sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())
	sys.LogInfo(sys.MsgInitializing, filepath.Base(cfg.DatabasePath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sys.SetAppContext(ctx)

	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf(sys.MsgDatabaseInitFail, err)
	}
	defer sys.CloseDatabase()

	var client *bot.Client
	for i := 1; i <= clientAttempts; i++ {
		client, err = sys.CreateClient(ctx, cfg)
		if err == nil {
			break
		}
		if i == clientAttempts {
			return fmt.Errorf(sys.MsgBotClientCreateFail, i, err)
		}
		sys.LogWarn(sys.MsgBotClientRetry, i, clientAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clientRetryDelay):
		}
	}
	defer client.Close(context.Background())

	if skipReg {
		sys.LogInfo(sys.MsgBotSkipReg)
	} else if err := sys.RegisterCommands(client, cfg.GuildID, forceReg); err != nil {
		sys.LogError(sys.MsgBotRegisterFail, err)
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf(sys.MsgBotGatewayFail, err)
	}

	<-ctx.Done()

	sys.LogInfo(sys.MsgDaemonShutdown)
	sys.ShutdownDaemons(context.Background())
	sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	return nil
}
