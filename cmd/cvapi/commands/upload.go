package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudvault-io/cvapi/pkg/cvclient"
)

// NewUploadCommand creates the upload command.
func NewUploadCommand() *cobra.Command {
	var (
		folderID    string
		parallelism int
		retryDelay  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file in chunks",
		Long:  "Upload a large file through an upload session with bounded part parallelism",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}

			defer func() {
				_ = file.Close()
			}()

			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("inspecting %s: %w", path, err)
			}

			client, err := buildClient()
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			session, err := client.CreateUploadSession(ctx, folderID, filepath.Base(path), info.Size())
			if err != nil {
				return err
			}

			uploader := client.ChunkedUploader(session, file, info.Size(),
				cvclient.WithParallelism(parallelism),
				cvclient.WithPartRetryInterval(retryDelay),
			)

			if _, err := uploader.Upload(ctx); err != nil {
				if abortErr := uploader.Abort(ctx); abortErr != nil {
					fmt.Fprintf(os.Stderr, "abort failed: %v\n", abortErr)
				}

				return err
			}

			fmt.Printf("uploaded %s (%d bytes, %d parts)\n", filepath.Base(path), info.Size(), len(uploader.Parts()))

			return nil
		},
	}

	cmd.Flags().StringVar(&folderID, "folder", "0", "destination folder ID")
	cmd.Flags().IntVar(&parallelism, "parallelism", 4, "parts uploading concurrently")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", time.Second, "delay between retries of a part that failed in transit")

	return cmd
}
