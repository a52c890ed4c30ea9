package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ffqueue/api"
	"ffqueue/catalog"
	"ffqueue/config"
	"ffqueue/task"

	"github.com/c2h5oh/datasize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ffqueue",
		Short:         "Queue and run ffmpeg media conversions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newConvertCommand())
	rootCmd.AddCommand(newFormatsCommand())
	return rootCmd
}

func newServeCommand() *cobra.Command {
	var port string
	var preload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion queue behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(func(cfg *config.Config) {
				if port != "" {
					cfg.Port = port
				}
			})
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a, preload)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	cmd.Flags().BoolVar(&preload, "preload", true, "Load the engine at startup instead of on first conversion")
	return cmd
}

func serve(parent context.Context, a *app, preload bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.manager.Start(ctx)
	if preload {
		go func() {
			if err := a.manager.LoadEngine(ctx); err != nil {
				a.logger.Warn("engine preload failed; will retry on first conversion", zap.Error(err))
			}
		}()
	}

	router := api.SetupRouter(a.manager, a.cfg, a.logger.Named("http"))
	srv := &http.Server{
		Addr:    ":" + a.cfg.Port,
		Handler: router,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	a.logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server exiting")
	return nil
}

type convertFlags struct {
	mode      string
	format    string
	preset    string
	out       string
	trimStart float64
	trimEnd   float64
	volume    float64
	bitrate   int
	timeout   time.Duration
}

func newConvertCommand() *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a single file and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVarP(&flags.mode, "mode", "m", "", "Conversion mode: audio, video or extract")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "", "Target format")
	cmd.Flags().StringVar(&flags.preset, "preset", "", "Quality preset: high, balanced or small")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Output path (defaults to the derived output name)")
	cmd.Flags().Float64Var(&flags.trimStart, "trim-start", -1, "Trim start in seconds")
	cmd.Flags().Float64Var(&flags.trimEnd, "trim-end", -1, "Trim end in seconds")
	cmd.Flags().Float64Var(&flags.volume, "volume", 0, "Volume multiplier (0.2 to 2)")
	cmd.Flags().IntVar(&flags.bitrate, "bitrate", 0, "Audio bitrate in kbps")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Abort the conversion after this long")
	return cmd
}

func (f convertFlags) options(cmd *cobra.Command) catalog.Options {
	var opts catalog.Options
	if cmd.Flags().Changed("trim-start") {
		opts.TrimStart = catalog.Float(f.trimStart)
	}
	if cmd.Flags().Changed("trim-end") {
		opts.TrimEnd = catalog.Float(f.trimEnd)
	}
	if cmd.Flags().Changed("volume") {
		opts.Volume = catalog.Float(f.volume)
	}
	if cmd.Flags().Changed("bitrate") {
		opts.AudioBitrate = catalog.Int(f.bitrate)
	}
	return opts
}

func runConvert(cmd *cobra.Command, path string, flags convertFlags) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}
	a.manager.Start(ctx)

	t, err := a.manager.AddTask(task.AddRequest{
		File: task.File{
			Name: filepath.Base(path),
			MIME: mimetype.Detect(data).String(),
			Data: data,
		},
		Mode:         catalog.Mode(flags.mode),
		TargetFormat: catalog.Format(flags.format),
		Preset:       catalog.PresetID(flags.preset),
		Options:      flags.options(cmd),
	})
	if err != nil {
		return err
	}

	events, unsubscribe := a.manager.Subscribe(64)
	defer unsubscribe()
	go func() {
		for ev := range events {
			if ev.Type == task.EventProgress && ev.Task.ID == t.ID {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%s %3d%%", ev.Task.File.Name, ev.Task.Progress)
			}
		}
	}()

	if _, err := a.manager.StartTask(t.ID); err != nil {
		return err
	}
	done, err := a.manager.Wait(ctx, t.ID)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		_ = a.manager.CancelTask(t.ID)
		return err
	}
	if done.Status != task.StatusCompleted {
		return fmt.Errorf("conversion %s: %s", done.Status, done.Message)
	}

	_, out, err := a.manager.Output(t.ID)
	if err != nil {
		return err
	}
	dest := flags.out
	if dest == "" {
		dest = done.OutputName
	}
	if err := os.WriteFile(dest, out.Data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s -> %s)\n", path, dest,
		datasize.ByteSize(done.SizeBefore).HumanReadable(), datasize.ByteSize(done.SizeAfter).HumanReadable())
	return nil
}

func newFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List modes, formats and presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderFormats())
			fmt.Fprintln(cmd.OutOrStdout(), renderPresets())
			return nil
		},
	}
}

func joinFormats(formats []catalog.Format) string {
	parts := make([]string, len(formats))
	for i, f := range formats {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

func renderFormats() string {
	rows := make([][]string, 0, len(catalog.Modes))
	for _, m := range catalog.Modes {
		rows = append(rows, []string{
			string(m),
			joinFormats(catalog.InputFormats(m)),
			joinFormats(catalog.OutputFormats(m)),
			string(catalog.DefaultFormat(m)),
		})
	}
	return renderTable([]string{"Mode", "Inputs", "Outputs", "Default"}, rows, nil)
}

func renderPresets() string {
	rows := make([][]string, 0, 3)
	for _, p := range catalog.Presets() {
		name := string(p.ID)
		if p.ID == catalog.DefaultPreset {
			name += " (default)"
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(p.AudioBitrate) + "k",
			strconv.Itoa(p.VideoBitrate) + "k",
		})
	}
	return renderTable([]string{"Preset", "Audio", "Video"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}
