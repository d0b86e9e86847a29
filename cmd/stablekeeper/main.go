package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/stablekeeper/client"
	"github.com/richinsley/stablekeeper/config"
	"github.com/richinsley/stablekeeper/graphapi"
	"github.com/richinsley/stablekeeper/library"
	"github.com/richinsley/stablekeeper/metadata"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "stablekeeper",
		Short:        "Find the prompts behind ComfyUI images",
		Long:         "Stablekeeper reads the workflow ComfyUI embeds in its PNG output and reports the positive and negative prompts used for every saved image.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default: user config directory)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newWatchCommand())
	return rootCmd
}

func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if settings.Debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	return settings, nil
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <file>...",
		Short: "Print the prompts of PNG images or workflow JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			roles := settings.Roles()

			var entries []*library.Entry
			for _, path := range args {
				text, err := readWorkflow(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				outputs, err := library.ExtractPrompts(text, roles)
				var decodeErr *graphapi.DecodeError
				if errors.As(err, &decodeErr) {
					return fmt.Errorf("%s: %w", path, err)
				}
				entries = append(entries, &library.Entry{Path: path, Outputs: outputs, Err: err})
			}
			return printEntries(cmd.OutOrStdout(), entries, asJSON)
		},
	}
	cmd.Flags().Bool("json", false, "Print results as JSON")
	return cmd
}

// readWorkflow returns the workflow document of a PNG image or a JSON file.
func readWorkflow(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := io.ReadAll(f)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return metadata.ExtractWorkflow(f)
}

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [dir]...",
		Short: "Scan image directories for ComfyUI prompts",
		Long:  "Scan walks the given directories, or the configured image directories when none are given, and prints the prompts of every PNG image with an embedded workflow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			quiet, _ := cmd.Flags().GetBool("quiet")
			all, _ := cmd.Flags().GetBool("all")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				settings.ImageDirectories = args
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			files, err := library.Collect(settings.ImageDirectories)
			if err != nil {
				return err
			}
			slog.Debug("collected images", "count", len(files), "workers", settings.Workers())

			opts := library.Options{
				Roles:   settings.Roles(),
				Workers: settings.Workers(),
			}
			var bar *progressbar.ProgressBar
			if !quiet && len(files) > 0 {
				bar = progressbar.Default(int64(len(files)), "scanning")
				opts.OnProgress = func(done, total int) {
					bar.Add(1)
				}
			}
			scanner, err := library.NewScanner(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			entries, err := scanner.Scan(ctx, files)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return err
			}

			if !all {
				kept := entries[:0]
				for _, e := range entries {
					if e.HasWorkflow() {
						kept = append(kept, e)
					}
				}
				entries = kept
			}
			return printEntries(cmd.OutOrStdout(), entries, asJSON)
		},
	}
	cmd.Flags().Bool("json", false, "Print results as JSON")
	cmd.Flags().BoolP("quiet", "q", false, "Do not show a progress bar")
	cmd.Flags().Bool("all", false, "Also list images without a workflow")
	return cmd
}

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the prompts of images as a ComfyUI server saves them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			address, _ := cmd.Flags().GetString("address")
			port, _ := cmd.Flags().GetInt("port")
			timeout, _ := cmd.Flags().GetInt("timeout")
			asJSON, _ := cmd.Flags().GetBool("json")
			if address == "" {
				address = settings.ServerAddress
			}
			if port == 0 {
				port = settings.ServerPort
			}

			out := cmd.OutOrStdout()
			callbacks := &client.ComfyClientCallbacks{
				ClientQueueCountChanged: func(c *client.ComfyClient, queuecount int) {
					slog.Info("Queue size changed", "client", c.ClientID(), "queue", queuecount)
				},
				PromptsAvailable: func(c *client.ComfyClient, ip *client.ImagePrompts) {
					entry := &library.Entry{
						Path:    filepath.Join(ip.Image.Subfolder, ip.Image.Filename),
						ModTime: time.Now(),
						Outputs: ip.Outputs,
						Err:     ip.Err,
					}
					if err := printEntries(out, []*library.Entry{entry}, asJSON); err != nil {
						slog.Error("Failed to print prompts", "error", err)
					}
				},
			}

			c := client.NewComfyClient(address, port, callbacks)
			c.SetRoles(settings.Roles())
			slog.Info("Connecting", "address", address, "port", port, "client", c.ClientID())
			if err := c.Watch(timeout); err != nil {
				return fmt.Errorf("failed to connect to %s:%d: %w", address, port, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case <-c.Done():
				return errors.New("connection to server closed")
			case <-ctx.Done():
			}
			return c.Close()
		},
	}
	cmd.Flags().String("address", "", "Server address (default: from config)")
	cmd.Flags().Int("port", 0, "Server port (default: from config)")
	cmd.Flags().Int("timeout", -1, "Seconds to wait for the first connection, negative to wait until out of retries")
	cmd.Flags().Bool("json", false, "Print results as JSON lines")
	return cmd
}

type jsonEntry struct {
	*library.Entry
	Error string `json:"error,omitempty"`
}

func printEntries(w io.Writer, entries []*library.Entry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, e := range entries {
			je := jsonEntry{Entry: e}
			if e.Err != nil {
				je.Error = e.Err.Error()
			}
			if err := enc.Encode(je); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range entries {
		fmt.Fprintln(w, e.Path)
		for _, o := range e.Outputs {
			fmt.Fprintf(w, "  [%d] %s\n", o.NodeID, o.Title)
			if o.Prompts == nil {
				fmt.Fprintln(w, "    no sampler found")
				continue
			}
			for _, p := range o.Prompts.Positive {
				fmt.Fprintf(w, "    + %s\n", p)
			}
			for _, p := range o.Prompts.Negative {
				fmt.Fprintf(w, "    - %s\n", p)
			}
		}
		if e.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", e.Err)
		}
	}
	return nil
}
