package cmd

import (
	"fmt"
	"log/slog"

	"github.com/rasha-hantash/locscout/secure"
	"github.com/rasha-hantash/locscout/store"
	"github.com/spf13/cobra"
)

var flagSaveKey bool

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Encrypt or decrypt the OpenAI API key",
}

var keyEncryptCmd = &cobra.Command{
	Use:   "encrypt <api-key>",
	Short: "Encrypt an API key with the local store's key",
	Long: `Encrypt prints a blob usable as openai.encrypted_api_key. With --save the
blob is kept in the local store and used when the config has no key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(settings.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		blob, err := secure.NewBox(st).Encrypt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagSaveKey {
			if err := st.Put(cmd.Context(), store.KeyCredential, []byte(blob)); err != nil {
				return err
			}
			slog.Info("saved encrypted key", slog.String("store", st.Path()))
		}
		fmt.Fprintln(cmd.OutOrStdout(), blob)
		return nil
	},
}

var keyDecryptCmd = &cobra.Command{
	Use:   "decrypt <blob>",
	Short: "Decrypt a blob produced by key encrypt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(settings.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		key, err := secure.NewBox(st).Decrypt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	keyEncryptCmd.Flags().BoolVar(&flagSaveKey, "save", false, "Keep the encrypted key in the local store")
	keyCmd.AddCommand(keyEncryptCmd, keyDecryptCmd)
	rootCmd.AddCommand(keyCmd)
}

// openStore opens the store at path, or at the default location.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		p, err := store.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return store.Open(path)
}
