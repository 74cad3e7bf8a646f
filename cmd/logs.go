package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

// logEntry is the subset of a JSON log line `logs` prints.
type logEntry struct {
	Time    string `json:"ts"`
	Level   string `json:"level"`
	Logger  string `json:"logger"`
	Message string `json:"msg"`
}

// formatLogLine renders one JSON log line for the terminal. ok is false when the line is below
// minLevel; lines that are not JSON are passed through.
func formatLogLine(line string, minLevel zapcore.Level) (string, bool) {
	var e logEntry
	if err := json.UnmarshalFromString(line, &e); err != nil || e.Message == "" {
		return line, true
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(e.Level)); err == nil && lvl < minLevel {
		return "", false
	}

	// Everything that is not one of the fixed keys is printed as context.
	var fields map[string]any
	_ = json.UnmarshalFromString(line, &fields)
	for _, k := range []string{"ts", "level", "logger", "msg", "caller", "stacktrace"} {
		delete(fields, k)
	}
	out := fmt.Sprintf("%s %-5s %s: %s", e.Time, strings.ToUpper(e.Level), e.Logger, e.Message)
	if len(fields) > 0 {
		extra, err := json.MarshalToString(fields)
		if err == nil {
			out += " " + extra
		}
	}
	return out, true
}

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the engine's log file, optionally following new entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			path := cfg.Logger().LogFile
			if path == "" {
				return fmt.Errorf("logger.log_file is not configured")
			}
			follow, _ := cmd.Flags().GetBool("follow")
			levelName, _ := cmd.Flags().GetString("level")
			var minLevel zapcore.Level
			if err := minLevel.UnmarshalText([]byte(levelName)); err != nil {
				return fmt.Errorf("invalid --level %q: %w", levelName, err)
			}

			tcfg := tail.Config{Follow: follow, ReOpen: follow, MustExist: true, Logger: tail.DiscardingLogger}
			if follow {
				if fromEnd, _ := cmd.Flags().GetBool("new"); fromEnd {
					tcfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
				}
			}
			t, err := tail.TailFile(path, tcfg)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer func() {
				_ = t.Stop()
				t.Cleanup()
			}()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return nil
					}
					if line.Err != nil {
						return line.Err
					}
					if s, show := formatLogLine(line.Text, minLevel); show {
						fmt.Fprintln(out, s)
					}
				}
			}
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "keep printing entries as they are written")
	cmd.Flags().Bool("new", false, "with --follow, start at the end of the file")
	cmd.Flags().String("level", "debug", "lowest level to print")
	return cmd
}
