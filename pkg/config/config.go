// Package config provides configuration loading and management for brainage.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Base URL for the hosted pipeline assets. Each asset is fetched once and
// cached under Assets.CacheDir.
const assetBaseURL = "https://ndownloader.figshare.com/files"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Preprocessing parameters
	Preprocessing struct {
		// BiasCorrection toggles N4-style bias field correction
		BiasCorrection bool `yaml:"biasCorrection"`

		// Denoise toggles median-filter denoising
		Denoise bool `yaml:"denoise"`

		// IntensityMatching selects the matching mode applied against the
		// template: "none", "regression" or "histogram"
		IntensityMatching string `yaml:"intensityMatching"`
	} `yaml:"preprocessing"`

	// Augmentation parameters
	Augmentation struct {
		// SamplesPerSubject is the number of augmented replicas per input image
		SamplesPerSubject int `yaml:"samplesPerSubject"`

		// PatchSize is the edge length of the full-resolution crop in voxels
		PatchSize int `yaml:"patchSize"`

		// CropMargin keeps crop corners this many voxels away from the borders
		CropMargin int `yaml:"cropMargin"`

		// JitterRotation is the maximum random rotation in degrees
		JitterRotation float64 `yaml:"jitterRotation"`

		// JitterTranslation is the maximum random translation in voxels
		JitterTranslation float64 `yaml:"jitterTranslation"`

		// JitterScale is the maximum random relative scale change
		JitterScale float64 `yaml:"jitterScale"`

		// Seed fixes the augmentation RNG; 0 selects a time-based seed
		Seed int64 `yaml:"seed"`
	} `yaml:"augmentation"`

	// Assets parameters
	Assets struct {
		// CacheDir is where downloaded assets are stored
		CacheDir string `yaml:"cacheDir"`

		// TemplateURL points at the full-resolution brain template
		TemplateURL string `yaml:"templateURL"`

		// TemplateSubsampledURL points at the half-resolution template
		TemplateSubsampledURL string `yaml:"templateSubsampledURL"`

		// PopulationAverageURL points at the population-average image used
		// for the difference channel
		PopulationAverageURL string `yaml:"populationAverageURL"`

		// PopulationAverageSubsampledURL points at its half-resolution
		// counterpart
		PopulationAverageSubsampledURL string `yaml:"populationAverageSubsampledURL"`

		// WeightsURL points at the pretrained network weights
		WeightsURL string `yaml:"weightsURL"`
	} `yaml:"assets"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// PlotDir, when set, receives one replica-age histogram PNG per
		// subject
		PlotDir string `yaml:"plotDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default preprocessing parameters
	cfg.Preprocessing.BiasCorrection = true
	cfg.Preprocessing.Denoise = true
	cfg.Preprocessing.IntensityMatching = "none"

	// Set default augmentation parameters
	cfg.Augmentation.SamplesPerSubject = 8
	cfg.Augmentation.PatchSize = 96
	cfg.Augmentation.CropMargin = 10
	cfg.Augmentation.JitterRotation = 2.0
	cfg.Augmentation.JitterTranslation = 2.0
	cfg.Augmentation.JitterScale = 0.02
	cfg.Augmentation.Seed = 0

	// Set default asset locations
	cfg.Assets.CacheDir = "."
	cfg.Assets.TemplateURL = assetBaseURL + "/22934949"
	cfg.Assets.TemplateSubsampledURL = assetBaseURL + "/22934955"
	cfg.Assets.PopulationAverageURL = assetBaseURL + "/22934958"
	cfg.Assets.PopulationAverageSubsampledURL = assetBaseURL + "/22934961"
	cfg.Assets.WeightsURL = assetBaseURL + "/22934964"

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.PlotDir = ""

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
