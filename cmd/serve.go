package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaup/internal/app"
	"mediaup/internal/encoder"
	"mediaup/internal/store"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept uploads into the content store (creates offer)",
	Long: `Accept uploads into the content store. For each session this will:

1. Create a WebRTC peer connection and data channel
2. Publish an SDP offer and print the session code
3. Wait for an uploader to answer with that code
4. Store every upload it authenticates, then start a new session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := createContext()
		defer stop()

		st, err := store.NewOS(cfg.Store.Root)
		if err != nil {
			return err
		}
		peerService, signalingService, err := createServices(ctx)
		if err != nil {
			return err
		}

		var pipeline *encoder.Pipeline
		if cfg.Encoder.Thumbnails {
			pipeline = encoder.NewPipeline(st, encoder.NewThumbnailer(cfg.Encoder.ThumbWidth, cfg.Encoder.ThumbHeight))
		}

		log.Infof("Storing uploads under %s", cfg.Store.Root)
		server := app.NewServerApp(cfg, peerService, signalingService, st, pipeline)
		return server.Run(ctx, func(code string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Send this code to the uploader: %s\n", code)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
