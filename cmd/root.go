/*
Copyright © 2025 Ken'ichiro Oyama <k1lowxb@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/stamp"
	"github.com/k1LoW/stamp/config"
	"github.com/k1LoW/stamp/logger/dot"
	"github.com/k1LoW/stamp/version"
	"github.com/k1LoW/tail"
	"github.com/pkg/browser"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
)

var (
	profile       string
	scale         float64
	posX          float64
	posY          float64
	filter        string
	format        string
	skipUnchanged bool
	noAutoOrient  bool
	watch         bool
	openOutput    bool
	verbose       bool
)

// tb keeps the latest log lines for error.json.
var tb = tail.New(100)

var rootCmd = &cobra.Command{
	Use:   "stamp BASE LOGO OUTPUT [SCALE] [POS_X] [POS_Y]",
	Short: "stamp overlays a logo onto a base image",
	Long: `stamp overlays a logo onto a base image and writes the result as a lossless image.

SCALE is the logo width as a fraction of the base width (default 0.2).
POS_X and POS_Y are where the logo centre lands, as fractions of the base width and height (default 0.5).
BASE and LOGO may be http(s) URLs.`,
	Args:         positionalArgs,
	SilenceUsage: true,
	Version:      fmt.Sprintf("%s (rev:%s)", version.Version, version.Revision),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts, err := optionsFromArgs(cmd, args)
		if err != nil {
			return err
		}
		logger, cleanup, err := newLogger(verbose)
		if err != nil {
			return err
		}
		defer cleanup()
		opts = append(opts, stamp.WithLogger(logger))

		s, err := stamp.New(opts...)
		if err != nil {
			return err
		}
		base, logo, output := args[0], args[1], args[2]
		if _, err := s.Apply(ctx, base, logo, output); err != nil {
			if !watch {
				return err
			}
		} else if openOutput {
			if err := browser.OpenFile(output); err != nil {
				return err
			}
		}
		if watch {
			return watchAndApply(ctx, s, logger, base, logo, output)
		}
		return nil
	},
}

type errorData struct {
	LatestLogs  []any     `json:"latest_logs"`
	StackTraces any       `json:"stack_traces"`
	CreatedAt   time.Time `json:"created_at"`
	Version     string    `json:"version"`
	Revision    string    `json:"revision"`
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Write stack trace log to state directory
		var latestLogs []any
		for _, line := range tb.Lines() {
			var m map[string]any
			if err := json.Unmarshal([]byte(line), &m); err != nil {
				latestLogs = append(latestLogs, line)
			} else {
				latestLogs = append(latestLogs, m)
			}
		}
		d := &errorData{
			LatestLogs:  latestLogs,
			StackTraces: errors.StackTraces(err),
			CreatedAt:   time.Now(),
			Version:     version.Version,
			Revision:    version.Revision,
		}
		b, err := json.Marshal(d)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		} else {
			dumpPath := filepath.Join(config.StateHomePath(), "error.json")
			if err := os.MkdirAll(filepath.Dir(dumpPath), 0o700); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", filepath.Dir(dumpPath), err)
			} else if err := os.WriteFile(dumpPath, b, 0o600); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "failed to write error.json to %s: %v\n", dumpPath, err)
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "", "", "profile name")
	rootCmd.Flags().Float64VarP(&scale, "scale", "s", stamp.DefaultScale, "logo width as a fraction of the base width")
	rootCmd.Flags().Float64VarP(&posX, "x", "", stamp.DefaultX, "horizontal anchor of the logo centre (0 is left, 1 is right)")
	rootCmd.Flags().Float64VarP(&posY, "y", "", stamp.DefaultY, "vertical anchor of the logo centre (0 is top, 1 is bottom)")
	rootCmd.Flags().StringVarP(&filter, "filter", "", "", fmt.Sprintf("resampling filter (%s)", strings.Join(stamp.FilterNames(), ", ")))
	rootCmd.Flags().StringVarP(&format, "format", "", "", "output format (png, tiff, bmp). defaults to the output extension")
	rootCmd.Flags().BoolVarP(&skipUnchanged, "skip-unchanged", "", false, "leave OUTPUT untouched when it already holds the same image")
	rootCmd.Flags().BoolVarP(&noAutoOrient, "no-auto-orient", "", false, "ignore EXIF orientation of the inputs")
	rootCmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch BASE and LOGO and re-apply on change")
	rootCmd.Flags().BoolVarP(&openOutput, "open", "", false, "open OUTPUT after it is written")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print debug logs to stderr")
}

// positionalArgs accepts BASE LOGO OUTPUT and up to three numbers, printing usage otherwise.
func positionalArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.RangeArgs(3, 6)(cmd, args); err != nil {
		_ = cmd.Usage()
		return &stamp.Error{Kind: stamp.KindInvalidArgument, Err: err}
	}
	return nil
}

// optionsFromArgs layers the config file, then flags, then positional numbers.
func optionsFromArgs(cmd *cobra.Command, args []string) ([]stamp.Option, error) {
	cfg, err := config.Load(profile)
	if err != nil {
		return nil, &stamp.Error{Kind: stamp.KindInvalidArgument, Err: err}
	}
	opts := []stamp.Option{stamp.WithConfig(cfg)}

	flags := cmd.Flags()
	if flags.Changed("scale") {
		opts = append(opts, stamp.WithScale(scale))
	}
	if flags.Changed("x") {
		opts = append(opts, stamp.WithX(posX))
	}
	if flags.Changed("y") {
		opts = append(opts, stamp.WithY(posY))
	}
	if filter != "" {
		opts = append(opts, stamp.WithFilter(filter))
	}
	if format != "" {
		opts = append(opts, stamp.WithFormat(format))
	}
	if flags.Changed("skip-unchanged") {
		opts = append(opts, stamp.WithSkipUnchanged(skipUnchanged))
	}
	if noAutoOrient {
		opts = append(opts, stamp.WithAutoOrient(false))
	}
	if watch {
		opts = append(opts, stamp.WithCache(true))
	}

	numbers := []struct {
		name string
		opt  func(float64) stamp.Option
	}{
		{"SCALE", stamp.WithScale},
		{"POS_X", stamp.WithX},
		{"POS_Y", stamp.WithY},
	}
	if len(args) > 3 {
		for i, a := range args[3:] {
			v, err := parseNumber(numbers[i].name, a)
			if err != nil {
				return nil, err
			}
			opts = append(opts, numbers[i].opt(v))
		}
	}
	return opts, nil
}

func parseNumber(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &stamp.Error{Kind: stamp.KindInvalidArgument, Err: fmt.Errorf("%s must be a number, got %q", name, s)}
	}
	return v, nil
}

// newLogger fans records out to the console status line, the error.json buffer and, with verbose, stderr.
func newLogger(verbose bool) (*slog.Logger, func(), error) {
	d, err := dot.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}), nil)
	if err != nil {
		return nil, nil, err
	}
	handlers := []slog.Handler{
		d,
		slog.NewJSONHandler(tb, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	if verbose {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), d.Stop, nil
}
