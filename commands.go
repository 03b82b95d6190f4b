package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ossyrian/chmparse/chm"
	"github.com/ossyrian/chmparse/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list FILE",
	Short: "List the files stored in a container",
	Args:  cobra.ExactArgs(1),
	RunE:  list,
}

var catCmd = &cobra.Command{
	Use:   "cat FILE::PATH...",
	Short: "Write files stored in containers to stdout",
	Long: `Write files stored in containers to stdout.

Each argument names a container and a path inside it, separated by "::",
for example manual.chm::/html/intro.htm.`,
	Args: cobra.MinimumNArgs(1),
	RunE: cat,
}

var homeCmd = &cobra.Command{
	Use:   "home FILE...",
	Short: "Print the default topic of containers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  home,
}

var infoCmd = &cobra.Command{
	Use:   "info FILE",
	Short: "Describe the headers and metadata of a container",
	Args:  cobra.ExactArgs(1),
	RunE:  info,
}

var extractCmd = &cobra.Command{
	Use:   "extract FILE",
	Short: "Write the files of a container to a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  extract,
}

func init() {
	listCmd.Flags().BoolP("all", "a", false, "include internal #/$ and :: files")
	listCmd.Flags().StringP("match", "m", "", "only list files matching a glob such as html/**/*.htm")
	listCmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")

	catCmd.Flags().Int("containers", chm.DefaultContainerCacheSize, "containers kept open at once")
	homeCmd.Flags().Int("containers", chm.DefaultContainerCacheSize, "containers kept open at once")

	infoCmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")

	extractCmd.Flags().StringP("output", "o", ".", "directory to extract files to")
	extractCmd.Flags().StringP("match", "m", "", "only extract files matching a glob")
	extractCmd.Flags().BoolP("all", "a", false, "include internal #/$ and :: files")
	extractCmd.Flags().IntP("workers", "w", 4, "files decoded in parallel")
}

// list prints the file list of a container
func list(cmd *cobra.Command, args []string) error {
	r, err := chm.Open(cfg.InputFile, options())
	if err != nil {
		return err
	}
	defer r.Close()

	paths := r.FileList()
	if cfg.Match != "" {
		if paths, err = r.Match(cfg.Match); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if cfg.OutputFmt == "text" {
		for _, p := range paths {
			fmt.Fprintln(w, p)
		}
		return nil
	}

	entries := make([]types.EntryInfo, 0, len(paths))
	for _, p := range paths {
		e, err := r.Stat(p)
		if err != nil {
			return err
		}
		entries = append(entries, types.EntryInfo{
			Path:    e.Path,
			Kind:    types.KindOf(e.Path),
			Section: types.SectionOf(e.Section),
			Offset:  e.Offset,
			Length:  e.Length,
		})
	}
	return render(w, cfg.OutputFmt, entries)
}

// cat writes the content named by each FILE::PATH argument to stdout
func cat(cmd *cobra.Command, args []string) error {
	lib, err := chm.NewLibrary(options())
	if err != nil {
		return err
	}
	defer lib.Close()

	w := cmd.OutOrStdout()
	var missing []error
	for _, arg := range args {
		container, inner, ok := strings.Cut(arg, "::")
		if !ok || inner == "" {
			return fmt.Errorf("%q does not name a file inside a container (want FILE::PATH)", arg)
		}
		data, ok := lib.ReadContent(container, inner)
		if !ok {
			missing = append(missing, fmt.Errorf("%s: not found in %s", inner, container))
			continue
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return errors.Join(missing...)
}

// home prints the default topic of each container
func home(cmd *cobra.Command, args []string) error {
	lib, err := chm.NewLibrary(options())
	if err != nil {
		return err
	}
	defer lib.Close()

	w := cmd.OutOrStdout()
	for _, file := range args {
		topic := lib.GetHomeFile(file)
		if len(args) > 1 {
			fmt.Fprintf(w, "%s: %s\n", file, topic)
		} else {
			fmt.Fprintln(w, topic)
		}
	}
	return nil
}

// info prints the headers and #SYSTEM metadata of a container
func info(cmd *cobra.Command, args []string) error {
	r, err := chm.Open(cfg.InputFile, options())
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	ai := types.ArchiveInfo{
		File:     r.Name(),
		Size:     r.Size(),
		Version:  h.Version,
		LangID:   h.LangID,
		HomeFile: r.HomeFile(),
	}

	entries, err := r.Entries(chm.EnumUserFiles)
	if err != nil {
		return err
	}
	ai.FileCount = len(entries)
	for _, e := range entries {
		ai.TotalBytes += e.Length
	}

	if sys, err := r.System(); err == nil {
		ai.Title = sys.Title
		ai.Contents = sys.ContentsFile
		ai.Index = sys.IndexFile
		ai.Compiler = sys.Compiler
	} else if !errors.Is(err, chm.ErrNotFound) {
		slog.Warn("failed to read #SYSTEM", "error", err)
	}

	if windows, err := r.Windows(); err == nil {
		for _, win := range windows {
			ai.Windows = append(ai.Windows, win.Name)
		}
	} else if !errors.Is(err, chm.ErrNotFound) {
		slog.Warn("failed to read #WINDOWS", "error", err)
	}

	if ctl, rt, err := r.Compression(); err == nil {
		ai.Compressed = &types.CompressionInfo{
			WindowSize:      ctl.WindowSize,
			ResetInterval:   ctl.ResetInterval,
			Frames:          rt.FrameCount(),
			CompressedLen:   rt.CompressedLen,
			UncompressedLen: rt.UncompressedLen,
		}
	} else if !errors.Is(err, chm.ErrUnknownSection) {
		slog.Warn("failed to read compressed section", "error", err)
	}

	if cfg.OutputFmt == "text" {
		return printInfo(cmd.OutOrStdout(), ai)
	}
	return render(cmd.OutOrStdout(), cfg.OutputFmt, ai)
}

// extract writes the files of a container below the output directory
func extract(cmd *cobra.Command, args []string) error {
	r, err := chm.Open(cfg.InputFile, options())
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	slog.Info("extracting files", "input", cfg.InputFile, "output", cfg.OutputDir, "match", cfg.Match)
	n, err := chm.Extract(ctx, r, afero.NewOsFs(), cfg.OutputDir, cfg.Match, cfg.Workers)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("extraction interrupted", "written", n)
		}
		return err
	}
	slog.Info("extraction complete", "written", n)
	return nil
}

// render encodes v as JSON or YAML
func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printInfo(w io.Writer, ai types.ArchiveInfo) error {
	rows := [][2]string{
		{"File", ai.File},
		{"Size", fmt.Sprint(ai.Size)},
		{"Version", fmt.Sprint(ai.Version)},
		{"Language", fmt.Sprintf("0x%04x", ai.LangID)},
		{"Title", ai.Title},
		{"Home", ai.HomeFile},
		{"Contents", ai.Contents},
		{"Index", ai.Index},
		{"Compiler", ai.Compiler},
		{"Windows", strings.Join(ai.Windows, ", ")},
		{"Files", fmt.Sprintf("%d (%d bytes)", ai.FileCount, ai.TotalBytes)},
	}
	if c := ai.Compressed; c != nil {
		rows = append(rows,
			[2]string{"Window", fmt.Sprintf("%d bytes", c.WindowSize)},
			[2]string{"Reset every", fmt.Sprintf("%d bytes", c.ResetInterval)},
			[2]string{"Frames", fmt.Sprintf("%d (%d -> %d bytes)", c.Frames, c.CompressedLen, c.UncompressedLen)},
		)
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%-12s %s\n", row[0]+":", row[1]); err != nil {
			return err
		}
	}
	return nil
}
