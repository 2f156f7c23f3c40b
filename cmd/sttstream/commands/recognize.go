package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newRecognizeCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "recognize",
		Short: "Recognize a short clip with one synchronous request",
		Long: `Send the whole clip as inline content and print the single response.

Examples:
  sttstream -c config.yaml recognize --file hello.wav
  sttstream -c config.yaml recognize --file hello.wav --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openAudio(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()
			audio, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			sc, err := a.sessionConfig(nil)
			if err != nil {
				return err
			}
			rec, err := a.openSynchronous(cmd.Context())
			if err != nil {
				return err
			}
			defer rec.Close()

			resp, err := rec.RecognizeContent(cmd.Context(), sc, audio)
			if err != nil {
				return err
			}
			return printRecognize(cmd.OutOrStdout(), resp, a.flags.jsonOutput)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "audio file, - for stdin")
	return cmd
}
