package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harunnryd/sttstream/pkg/recognizer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newStreamCommand(a *app) *cobra.Command {
	var (
		file      string
		chunkSize int
		pace      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream audio through a duplex recognition session",
		Long: `Split audio into chunks, stream them after the session config and print
every result as it arrives.

Examples:
  sttstream -c config.yaml stream --file call.wav
  arecord -f S16_LE -r 16000 | sttstream -c config.yaml stream --file - --pace 32ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openAudio(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()
			if chunkSize <= 0 {
				chunkSize = a.cfg.ChunkSize
			}

			rec, err := a.openStreaming(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rec.Close()
			return runStream(cmd.Context(), a, rec, in, chunkSize, pace, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "audio file, - for stdin")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "bytes per audio frame, defaults to chunk_size from config")
	cmd.Flags().DurationVar(&pace, "pace", 0, "delay between frames to mimic live audio")
	return cmd
}

func runStream(ctx context.Context, a *app, rec *recognizer.Recognizer, in io.Reader, chunkSize int, pace time.Duration, out io.Writer) error {
	sink, err := rec.TakeAudioSink()
	if err != nil {
		return err
	}
	results, err := rec.ResultReceiver(a.cfg.ResultBufferSize)
	if err != nil {
		sink.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.StreamingRecognize(gctx)
	})
	g.Go(func() error {
		defer sink.Close()
		return feedAudio(gctx, in, sink, chunkSize, pace)
	})
	g.Go(func() error {
		var printErr error
		for resp := range results.Results() {
			if printErr != nil {
				continue
			}
			if printErr = printStreaming(out, resp, a.flags.jsonOutput); printErr != nil {
				results.Close()
				continue
			}
			a.logger.Debug("result_printed", "transcript", a.redactor.Summary(resp))
		}
		return printErr
	})
	if err := g.Wait(); err != nil {
		return err
	}
	st := rec.Stats()
	a.logger.Info("stream_finished",
		"frames", st.FramesSent,
		"results", st.ResultsForwarded,
		"dropped", st.ResultsDropped)
	return nil
}

// feedAudio sends in as frames of chunkSize bytes. The last frame may be short.
func feedAudio(ctx context.Context, in io.Reader, sink *recognizer.AudioSink, chunkSize int, pace time.Duration) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			if serr := sink.Send(ctx, buf[:n]); serr != nil {
				// The pump reports why the session ended.
				if errors.Is(serr, recognizer.ErrSinkClosed) || errors.Is(serr, context.Canceled) {
					return nil
				}
				return serr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		if pace > 0 {
			select {
			case <-time.After(pace):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
