package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ANTsXNet/BrainAgeGender/pkg/brainage"
	"github.com/ANTsXNet/BrainAgeGender/pkg/config"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "brainage.yaml", "Configuration file (YAML)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, brainage.Usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	outputFile, inputs, err := brainage.ParseArgs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if !cfg.Output.Verbose {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	pipeline := brainage.NewPipeline(&brainage.Params{
		Inputs:     inputs,
		OutputFile: outputFile,
		Config:     cfg,
		Logger:     logger,
	})

	startTime := time.Now()
	if err := pipeline.Run(); err != nil {
		logger.Fatal().Err(err).Msg("pipeline failed")
	}
	logger.Info().
		Int("subjects", len(inputs)).
		Dur("elapsed", time.Since(startTime)).
		Msg("pipeline finished")

	if outputFile == "" {
		pipeline.Results().Print(os.Stdout)
	}
}
