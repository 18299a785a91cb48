// Command replay runs recorded sensor data through the coaching pipeline
// offline, or publishes it to the MQTT ingest topic.
//
// Usage:
//
//	replay run --csv bench.csv --xlsx bench.xlsx
//	replay run --fit ride.fit --channel power --llm
//	replay publish --csv bench.csv --set-id 1b9d... --broker localhost:1883
//	replay tuning > tuning.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"setcoach/clients/ai"
	"setcoach/internal/coach"
	"setcoach/internal/config"
	"setcoach/internal/ingest"
	"setcoach/internal/insight"
	"setcoach/internal/notify"
	"setcoach/internal/replay"
	"setcoach/internal/report"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "replay",
		Short:        "Replay recorded sets through the coaching pipeline",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(publishCmd())
	root.AddCommand(tuningCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// source flags
// --------------------------------------------------------------------------

type sourceFlags struct {
	csv     string
	fit     string
	channel string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.csv, "csv", "", "CSV recording with t,raw[,mdf,artifact,symmetry] columns")
	cmd.Flags().StringVar(&f.fit, "fit", "", "FIT activity file")
	cmd.Flags().StringVar(&f.channel, "channel", replay.ChannelPower, "FIT channel to replay: power or hr")
	cmd.MarkFlagsMutuallyExclusive("csv", "fit")
	cmd.MarkFlagsOneRequired("csv", "fit")
}

func (f *sourceFlags) load() ([]coach.Reading, error) {
	path := f.csv
	if path == "" {
		path = f.fit
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if f.csv != "" {
		return replay.ReadCSV(file)
	}
	return replay.ReadFIT(file, f.channel)
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var (
		src        sourceFlags
		useLLM     bool
		xlsxPath   string
		tuningPath string
		every      float64
		exercise   string
		rest       float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a recording offline on a simulated clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			readings, err := src.load()
			if err != nil {
				return err
			}
			if len(readings) == 0 {
				return errors.New("recording has no samples")
			}
			tuning, err := config.LoadTuning(tuningPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			clock := replay.NewClock(time.Now().Truncate(time.Second))
			opts := coach.Options{
				Tuning:       func() *config.Tuning { return tuning },
				Logger:       logger,
				Clock:        clock.Now,
				SyncTriggers: true,
				Sinks: []coach.Sink{coach.SinkFunc(func(_ context.Context, _ string, in *insight.Insight) error {
					printInsight(cmd.OutOrStdout(), clock, in)
					return nil
				})},
			}
			if useLLM {
				opts.NewGenerator = llmGenerator
			}
			hub := coach.NewHub(opts)

			start := time.Now()
			res, err := replay.Run(ctx, hub, clock, readings, replay.Options{
				Set: coach.SetConfig{
					AthleteID: "replay",
					Exercise:  insight.Exercise{Name: exercise, InWorkingSet: true, RestSeconds: rest},
				},
				CheckpointEverySec: every,
			})
			if err != nil {
				return err
			}
			logger.Info("replay finished",
				"set_id", res.SetID,
				"samples", res.Samples,
				"insights", len(res.Insights),
				"transitions", len(res.Report.Transitions),
				"duration", time.Since(start).Round(time.Millisecond))

			if xlsxPath != "" {
				if err := report.SaveSetReport(xlsxPath, res.Report); err != nil {
					return err
				}
				logger.Info("report saved", "path", xlsxPath)
			}
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&useLLM, "llm", false, "Call the configured AI provider instead of fallbacks only")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the set report to this xlsx file")
	cmd.Flags().StringVar(&tuningPath, "tuning", "", "Tuning yaml (defaults when empty)")
	cmd.Flags().Float64Var(&every, "every", 5, "Checkpoint interval in sample seconds, 0 disables")
	cmd.Flags().StringVar(&exercise, "exercise", "Replay", "Exercise name")
	cmd.Flags().Float64Var(&rest, "rest", 90, "Planned rest in seconds")
	return cmd
}

func llmGenerator() (insight.Generator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	provider, err := ai.ParseProvider(cfg.AIProvider)
	if err != nil {
		return nil, err
	}
	client, err := ai.NewClientForProvider(ai.ProviderConfig{
		Provider:          provider,
		GroqAPIKey:        cfg.GroqAPIKey,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OllamaURL:         cfg.OllamaURL,
		Model:             cfg.AIModel,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
	})
	if err != nil {
		return nil, err
	}
	return ai.NewInsightGenerator(client), nil
}

func printInsight(w io.Writer, clock *replay.Clock, in *insight.Insight) {
	// момент по часам подхода, а не по стене
	fmt.Fprintf(w, "[%s] %s/%s %s\n",
		clock.Now().Format("15:04:05.0"), in.Source, in.Phase, strings.ReplaceAll(notify.FormatInsight(in), "\n", " | "))
}

// --------------------------------------------------------------------------
// publish command
// --------------------------------------------------------------------------

func publishCmd() *cobra.Command {
	var (
		src    sourceFlags
		broker string
		topic  string
		codec  string
		setID  string
		speed  float64
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a recording to the MQTT samples topic in real time",
		RunE: func(cmd *cobra.Command, args []string) error {
			readings, err := src.load()
			if err != nil {
				return err
			}
			if speed <= 0 {
				return fmt.Errorf("--speed must be positive")
			}
			topic = strings.Replace(topic, "+", setID, 1)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			opts := mqtt.NewClientOptions()
			if !strings.Contains(broker, "://") {
				broker = "tcp://" + broker
			}
			opts.AddBroker(broker)
			opts.SetClientID("setcoach-replay-" + setID)
			client := mqtt.NewClient(opts)
			token := client.Connect()
			if !token.WaitTimeout(5 * time.Second) {
				return fmt.Errorf("mqtt connection timeout")
			}
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connection failed: %w", err)
			}
			defer client.Disconnect(250)

			start := time.Now()
			for i, rd := range readings {
				due := start.Add(time.Duration(rd.TimeSec / speed * float64(time.Second)))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Until(due)):
				}

				payload, err := ingest.Encode(codec, ingest.Sample{
					SetID:    setID,
					TimeSec:  rd.TimeSec,
					Raw:      rd.Raw,
					MDF:      rd.MDF,
					Artifact: rd.Artifact,
					Symmetry: rd.Symmetry,
				})
				if err != nil {
					return err
				}
				token := client.Publish(topic, 0, false, payload)
				if !token.WaitTimeout(2 * time.Second) {
					return fmt.Errorf("publish timeout at sample %d", i)
				}
				if err := token.Error(); err != nil {
					return fmt.Errorf("publish failed: %w", err)
				}
			}
			logger.Info("recording published", "topic", topic, "samples", len(readings))
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&broker, "broker", "localhost:1883", "MQTT broker")
	cmd.Flags().StringVar(&topic, "topic", "setcoach/+/samples", "Topic; + is replaced with the set id")
	cmd.Flags().StringVar(&codec, "codec", ingest.CodecJSON, "Payload codec: json or msgpack")
	cmd.Flags().StringVar(&setID, "set-id", "", "Set id started through the API")
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed multiplier")
	_ = cmd.MarkFlagRequired("set-id")
	return cmd
}

// --------------------------------------------------------------------------
// tuning command
// --------------------------------------------------------------------------

func tuningCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tuning",
		Short: "Print the default tuning yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.DefaultTuning().Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
