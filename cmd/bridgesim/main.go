// Command bridgesim runs guided diffusion-bridge simulations described by a
// YAML scenario file.
package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "bridgesim",
		Short:         "simulate guided diffusion bridges",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var scenarioPath string
	run := &cobra.Command{
		Use:   "run",
		Short: "run the recordings of a scenario file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(log, scenarioPath)
		},
	}
	run.Flags().StringVarP(&scenarioPath, "scenario", "s", "scenario.yaml", "path to the scenario file")

	models := &cobra.Command{
		Use:   "models",
		Short: "list the models available to scenarios",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(strings.Join(demoCatalog().Names(), "\n"))
		},
	}

	root.AddCommand(run, models)
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func runScenario(log zerolog.Logger, path string) error {
	sc, err := LoadScenario(path)
	if err != nil {
		return err
	}
	batch, err := sc.Build(demoCatalog())
	if err != nil {
		return err
	}
	log.Info().
		Str("model", sc.Model.Name).
		Int("recordings", batch.Len()).
		Float64("step", sc.Step).
		Uint64("seed", sc.Seed).
		Msg("simulating")

	results := batch.SimulateAll(sc.Step, sc.Seed, sc.Workers)

	failed := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			log.Error().Str("recording", res.ID.String()).Err(res.Err).Msg("recording failed")
		case !res.Bridge.Success:
			failed++
			log.Warn().
				Str("recording", res.ID.String()).
				AnErr("reason", res.Bridge.Reason).
				Float64("log_likelihood_ratio", res.Bridge.LogLikelihoodRatio).
				Msg("bridge diverged; redraw and retry")
		default:
			last := res.Bridge.Trajectories[len(res.Bridge.Trajectories)-1]
			log.Info().
				Str("recording", res.ID.String()).
				Int("segments", len(res.Bridge.Trajectories)).
				Float64("log_likelihood_ratio", res.Bridge.LogLikelihoodRatio).
				Float64("end_time", last.Time(last.Len()-1)).
				Msg("bridge complete")
		}
	}
	log.Info().Int("ok", len(results)-failed).Int("failed", failed).Msg("done")
	return nil
}
