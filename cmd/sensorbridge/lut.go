package main

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/MrWong99/sensorbridge/internal/tonemap"
)

// lutProbes are the source intensities printed by the lut command.
var lutProbes = []uint16{0, 1024, 4096, 8192, 16384, 21845, 32768, 49152, 65535}

// LUTOptions holds lut command options.
type LUTOptions struct {
	ToneMapPath string
	OutPath     string
	Width       int
	Height      int
}

// NewLUTCommand creates the lut command.
func NewLUTCommand() *cobra.Command {
	opts := &LUTOptions{}

	cmd := &cobra.Command{
		Use:   "lut",
		Short: "Validate a tone-map file and preview its lookup table",
		Long: `Validate a tone-map file, print the 8-bit output for a set of source
intensities and optionally render the full 16-bit range as a grayscale ramp.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLUT(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ToneMapPath, "tonemap", "t", "", "path to the tone-map file (YAML or JSON)")
	cmd.Flags().StringVarP(&opts.OutPath, "out", "o", "", "write a grayscale ramp image to this path (format from extension)")
	cmd.Flags().IntVar(&opts.Width, "width", 1024, "ramp image width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", 64, "ramp image height in pixels")
	_ = cmd.MarkFlagRequired("tonemap")

	return cmd
}

func runLUT(w io.Writer, opts *LUTOptions) error {
	cfg, err := tonemap.Load(opts.ToneMapPath)
	if err != nil {
		return err
	}
	lut := tonemap.Generate(cfg)

	fmt.Fprintf(w, "tone map %s: output_min=%g output_max=%g source_scale=%g\n",
		opts.ToneMapPath, cfg.OutputMin, cfg.OutputMax, cfg.SourceScale)
	for _, s := range lutProbes {
		fmt.Fprintf(w, "  %5d -> %3d\n", s, lut.Map(s))
	}

	if opts.OutPath == "" {
		return nil
	}
	if opts.Width < 2 || opts.Height < 1 {
		return fmt.Errorf("ramp size %dx%d too small", opts.Width, opts.Height)
	}
	if err := imaging.Save(renderRamp(lut, opts.Width, opts.Height), opts.OutPath); err != nil {
		return fmt.Errorf("write ramp: %w", err)
	}
	fmt.Fprintf(w, "ramp written to %s\n", opts.OutPath)
	return nil
}

// renderRamp draws the table left to right, source 0 at x=0 and the
// maximum source value at the last column.
func renderRamp(lut *tonemap.LUT, width, height int) *image.NRGBA {
	img := imaging.New(width, height, color.NRGBA{A: 255})
	for x := range width {
		s := uint16(x * 65535 / (width - 1))
		v := lut.Map(s)
		c := color.NRGBA{R: v, G: v, B: v, A: 255}
		for y := range height {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
