package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rjsullivan/shottrace/internal/clips"
	"github.com/rjsullivan/shottrace/internal/config"
	"github.com/rjsullivan/shottrace/internal/encode"
	"github.com/rjsullivan/shottrace/internal/export"
	"github.com/rjsullivan/shottrace/internal/ffmpeg"
	"github.com/rjsullivan/shottrace/internal/logging"
	"github.com/rjsullivan/shottrace/internal/pipeline"
	"github.com/rjsullivan/shottrace/internal/render"
	"github.com/rjsullivan/shottrace/internal/source"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shottrace",
	Short: "shottrace - golf shot tracer export tool",
	Long:  "Burns an animated ball-flight tracer into approved golf swing clips and exports them as standalone videos.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logging.Init(cfg.LogLevel, verbose)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(probeCmd)

	exportCmd.Flags().StringP("quality", "q", "", "quality tier: draft, preview or final")
	exportCmd.Flags().StringP("output-dir", "o", "", "output directory")
}

var exportCmd = &cobra.Command{
	Use:   "export [project file]",
	Short: "Export approved clips with the tracer burned in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := clips.LoadProject(args[0])
		if err != nil {
			return err
		}

		quality, _ := cmd.Flags().GetString("quality")
		if quality == "" {
			quality = cfg.Export.Quality
		}
		tier, err := encode.ParseTier(quality)
		if err != nil {
			return err
		}

		outDir, _ := cmd.Flags().GetString("output-dir")
		if outDir == "" {
			outDir = cfg.OutputDir
		}
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return err
		}

		engine, err := ffmpeg.New(log.Logger, cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.Threads, cfg.TempDir)
		if err != nil {
			return err
		}

		style := render.DefaultStyle()
		if cfg.Tracer.Color != "" {
			if c, cerr := render.ParseColor(cfg.Tracer.Color); cerr == nil {
				style.Color = c
			} else {
				log.Warn().Err(cerr).Msg("ignoring invalid tracer color")
			}
		}
		if cfg.Tracer.Width > 0 {
			style.Width = cfg.Tracer.Width
		}

		pipe := pipeline.New(log.Logger, cfg.Export.BatchSize, cfg.Export.Deadline())
		orch := export.New(log.Logger, engine, pipe)

		ext := ".mp4"
		if tier == encode.TierDraft {
			ext = ".avi"
		}

		opts := export.Options{
			Tier: tier,
			Policy: source.Policy{
				MaxHeight:     cfg.Export.MaxHeight,
				SizeThreshold: cfg.Export.DownscaleThreshold,
				MaxFrames:     cfg.Export.MaxFrames,
				MinFPS:        cfg.Export.MinFPS,
			},
			Style: style,
			Progress: func(ev pipeline.Progress) {
				if ev.Percent >= 0 {
					log.Info().Str("clip", ev.ClipID).Str("phase", string(ev.Phase)).Int("percent", ev.Percent).Msg("export progress")
				} else {
					log.Info().Str("clip", ev.ClipID).Str("phase", string(ev.Phase)).Msg("export progress")
				}
			},
			Sink: func(clipID string, blob []byte) error {
				path := filepath.Join(outDir, clipID+ext)
				if werr := os.WriteFile(path, blob, 0644); werr != nil {
					return werr
				}
				log.Info().Str("clip", clipID).Str("path", path).Msg("clip saved")
				return nil
			},
		}

		results, err := orch.Export(cmd.Context(), proj, opts)
		if err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.Failed() {
				failed++
				log.Error().Err(r.Err).Str("clip", r.ClipID).Msg("clip export failed")
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d clips failed", failed, len(results))
		}

		log.Info().Int("clips", len(results)).Msg("export complete")
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [video file]",
	Short: "Print source video metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := ffmpeg.New(log.Logger, cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.Threads, cfg.TempDir)
		if err != nil {
			return err
		}

		info, err := engine.Probe(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		log.Info().
			Str("file", info.FilePath).
			Int64("size_bytes", info.SizeBytes).
			Dur("duration", info.Duration).
			Int("width", info.Width).
			Int("height", info.Height).
			Float64("fps", info.FPS).
			Str("video_codec", info.VideoCodec).
			Bool("has_audio", info.HasAudio).
			Str("audio_codec", info.AudioCodec).
			Msg("probe result")
		return nil
	},
}
