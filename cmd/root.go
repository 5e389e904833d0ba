package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mediaup/internal/config"
	"mediaup/internal/signalling"
	"mediaup/internal/transport"
)

var log = logging.Logger("cmd")

var (
	cfg     *config.Config
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mediaup",
	Short: "mediaup - chunked media uploads into a local content store",
	Long: `mediaup moves media files from an uploader into a server's content store
over a WebRTC data channel.

The server keeps every upload under <container>/<group>/<item>/<filename>
without ever overwriting an existing file, and derives thumbnails for images.

Usage:
  Accept uploads: mediaup serve
  Upload files:   mediaup upload --container c --group g --item i file...
  Manage store:   mediaup store exists|newname|rename|delete|put ...`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()

		var err error
		cfg, err = config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err := logging.SetLogLevel("*", cfg.Log.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mediaup.yaml)")
	rootCmd.PersistentFlags().String("store-root", "", "content store root directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("store.root", rootCmd.PersistentFlags().Lookup("store-root"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Set up viper environment variable support
	viper.SetEnvPrefix("MEDIAUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warnf("Could not find home directory: %v", err)
			return
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mediaup")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// createServices wires the connection services shared by serve and upload
func createServices(ctx context.Context) (*transport.PeerService, *signalling.SignalingService, error) {
	if err := cfg.ValidateSignalling(); err != nil {
		return nil, nil, err
	}

	server, err := signalling.NewFirebaseServer(ctx, &cfg.Firebase)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Firebase client: %w", err)
	}

	return transport.NewPeerService(&cfg.WebRTC), signalling.NewSignalingService(server, &signalling.WebRTCHandler{}), nil
}
