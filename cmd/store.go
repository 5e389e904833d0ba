package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediaup/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and manage the local content store",
}

func openStore() (*store.Store, error) {
	return store.NewOS(cfg.Store.Root)
}

var storeExistsCmd = &cobra.Command{
	Use:   "exists path",
	Short: "Report whether path exists in the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.Exists(args[0]))
		return nil
	},
}

var storeNewNameCmd = &cobra.Command{
	Use:   "newname path",
	Short: "Print a name for path that does not collide with existing files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		name, err := st.NewName(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return nil
	},
}

var storeRenameCmd = &cobra.Command{
	Use:   "rename source dest",
	Short: "Move a file within the store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return st.Rename(args[0], args[1])
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete path",
	Short: "Delete a file and the directories it leaves empty",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return st.Delete(args[0])
	},
}

var storePutCmd = &cobra.Command{
	Use:   "put local-file path",
	Short: "Copy a local file into the store under a non-colliding name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		stored, err := st.UploadUnique(args[1], data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), stored)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeExistsCmd, storeNewNameCmd, storeRenameCmd, storeDeleteCmd, storePutCmd)
}
