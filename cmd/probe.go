package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/triggercut/internal/utils"
	"github.com/andresmejia3/triggercut/internal/video"
	"github.com/spf13/cobra"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:         "probe video",
	Short:       "Print the metadata the cutter reads from a video",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipDBAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		if err := utils.CheckFile(args[0]); err != nil {
			utils.Die("Invalid arguments", err, nil)
		}
		info, err := video.Probe(cmd.Context(), cfg.FFprobe, args[0])
		if err != nil {
			utils.Die("Failed to probe video", err, nil)
		}
		if probeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(info); err != nil {
				utils.Die("Failed to encode metadata", err, nil)
			}
			return
		}
		printVideoInfo(os.Stdout, info)
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "Print metadata as JSON")
	rootCmd.AddCommand(probeCmd)
}

func printVideoInfo(w io.Writer, info *video.VideoInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "File\t%s\n", info.Filename)
	fmt.Fprintf(tw, "Size\t%.2f MB\n", info.SizeMB)
	fmt.Fprintf(tw, "Duration\t%s (%.3fs)\n", utils.FmtTime(info.Duration), info.Duration)
	if info.Format != "" {
		fmt.Fprintf(tw, "Format\t%s\n", info.Format)
	}
	if info.BitRate != "" {
		fmt.Fprintf(tw, "Bit rate\t%s\n", info.BitRate)
	}
	fmt.Fprintf(tw, "Resolution\t%dx%d\n", info.Width, info.Height)
	if info.Rotation != 0 {
		fmt.Fprintf(tw, "Rotation\t%d°\n", info.Rotation)
	}
	fmt.Fprintf(tw, "Codec\t%s\n", info.Codec)
	fmt.Fprintf(tw, "Frame rate\t%.3f fps\n", info.FPS)
	if info.FrameCount > 0 {
		fmt.Fprintf(tw, "Frames\t%d\n", info.FrameCount)
	} else {
		fmt.Fprintf(tw, "Frames\tunknown\n")
	}
	tw.Flush()
}
