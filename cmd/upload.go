package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"mediaup/internal/app"
	"mediaup/internal/reporter"
	"mediaup/pkg/types"
	"mediaup/pkg/utils"
)

type UploadFlags struct {
	Code      string
	Container string
	Group     string
	Item      string
	Name      string
}

var uploadFlags UploadFlags

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload [flags] file...",
	Short: "Upload files to a server (answers offer)",
	Long: `Upload files to a server's content store. This will:

1. Ask for the session code the server printed, unless --code is given
2. Answer the server's offer and open the data channel
3. Upload the files one at a time, in the order given

The files are stored under <container>/<group>/<item>/ on the server.
A file named "-" is read from standard input; it needs --code.`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateUploadFlags(&uploadFlags, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := createContext()
		defer stop()

		code := uploadFlags.Code
		if code == "" {
			var err error
			if code, err = utils.AskForCode(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("failed to get code from user: %w", err)
			}
		}

		peerService, signalingService, err := createServices(ctx)
		if err != nil {
			return err
		}

		uploader := app.NewUploaderApp(cfg, peerService, signalingService, afero.NewOsFs(), reporter.NewLogReporter(), cmd.ErrOrStderr())
		return uploader.Run(ctx, code, app.UploadRequest{
			Target: types.Target{
				ContainerID: uploadFlags.Container,
				GroupID:     uploadFlags.Group,
				ItemID:      uploadFlags.Item,
			},
			Files:     args,
			Stdin:     cmd.InOrStdin(),
			StdinName: uploadFlags.Name,
		})
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadFlags.Code, "code", "c", "", "Session code printed by the server")
	uploadCmd.Flags().StringVar(&uploadFlags.Container, "container", "", "Destination container id (required)")
	uploadCmd.Flags().StringVar(&uploadFlags.Group, "group", "", "Destination group id (required)")
	uploadCmd.Flags().StringVar(&uploadFlags.Item, "item", "", "Destination item id (required)")
	uploadCmd.Flags().StringVar(&uploadFlags.Name, "name", "", "Filename for data read from standard input")

	uploadCmd.MarkFlagRequired("container")
	uploadCmd.MarkFlagRequired("group")
	uploadCmd.MarkFlagRequired("item")
}

// validateUploadFlags validates the upload command flags
func validateUploadFlags(flags *UploadFlags, files []string) error {
	if flags.Code == "" && slices.Contains(files, app.StdinFile) {
		return fmt.Errorf("--code is required when uploading from standard input")
	}
	if flags.Code != "" && !utils.IsValidCode(flags.Code) {
		return fmt.Errorf("invalid session code %q", flags.Code)
	}
	if flags.Container == "" || flags.Group == "" || flags.Item == "" {
		return fmt.Errorf("container, group and item are required")
	}
	return nil
}
