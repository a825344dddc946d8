package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tennessen/internal/blob"
	"tennessen/internal/fitness"
	"tennessen/internal/sampler"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Simulation.MeanEffect = 0.1
	cfg.Simulation.Sampler = sampler.NameStats
	cfg.Output.Path = "out.db"
	return cfg
}

func envMap(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestDefaultsMatchPublishedRun(t *testing.T) {
	cfg := Default()
	require.Equal(t, 1.25e-4, cfg.Simulation.MutationRate)
	require.Equal(t, 1.25e-3, cfg.Simulation.RecombinationRate)
	require.Equal(t, 0.075, cfg.Simulation.EnvironmentalSD)
	require.Equal(t, 1.0, cfg.Simulation.Dominance)
	require.Equal(t, 64, cfg.Simulation.Cores)
	require.Equal(t, 1, cfg.Simulation.Batches)
	require.Equal(t, 50, cfg.Simulation.SampleInterval)
	require.Equal(t, "gbr", cfg.Simulation.Model)
	require.Equal(t, uint32(512000), cfg.Demography.FinalSize)

	err := cfg.Validate()
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "lambda", cfgErr.Field)
	require.ErrorIs(t, err, ErrMissingValue)

	require.NoError(t, validConfig().Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name  string
		field string
		is    error
		edit  func(*Config)
	}{
		{"unknown model", "model", fitness.ErrUnknownModel, func(c *Config) { c.Simulation.Model = "quadratic" }},
		{"unknown sampler", "sampler", sampler.ErrUnknownSampler, func(c *Config) { c.Simulation.Sampler = "ld" }},
		{"missing sampler", "sampler", ErrMissingValue, func(c *Config) { c.Simulation.Sampler = "" }},
		{"VA without stub", "bigstub", ErrMissingValue, func(c *Config) { c.Simulation.Sampler = sampler.NameVA }},
		{"missing output", "output", ErrMissingValue, func(c *Config) { c.Output.Path = "" }},
		{"zero mutation rate", "mutrate", nil, func(c *Config) { c.Simulation.MutationRate = 0 }},
		{"zero recombination", "recrate", nil, func(c *Config) { c.Simulation.RecombinationRate = 0 }},
		{"negative sigma", "sigma-e", nil, func(c *Config) { c.Simulation.EnvironmentalSD = -1 }},
		{"zero tsample", "tsample", nil, func(c *Config) { c.Simulation.SampleInterval = 0 }},
		{"zero cores", "cores", nil, func(c *Config) { c.Simulation.Cores = 0 }},
		{"zero batches", "batches", nil, func(c *Config) { c.Simulation.Batches = 0 }},
		{"bad store", "store", nil, func(c *Config) { c.Output.Store = "hdf5" }},
		{"bad driver", "overflow-driver", nil, func(c *Config) { c.Overflow.Sink.Driver = "ftp" }},
		{"s3 without bucket", "overflow.sink.s3.bucket", ErrMissingValue, func(c *Config) {
			c.Simulation.Sampler = sampler.NameVA
			c.Overflow.Stub = "big"
			c.Overflow.Sink.Driver = blob.DriverS3
		}},
		{"bad level", "log-level", nil, func(c *Config) { c.Logging.Level = "loud" }},
		{"bad demography", "demography", nil, func(c *Config) { c.Demography.FinalSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.edit(cfg)
			err := cfg.Validate()
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, tc.field, cfgErr.Field)
			if tc.is != nil {
				require.ErrorIs(t, err, tc.is)
			}
		})
	}
}

func TestVAWithStubIsValid(t *testing.T) {
	cfg := validConfig()
	cfg.Simulation.Sampler = sampler.NameVA
	cfg.Overflow.Stub = "big"
	require.NoError(t, cfg.Validate())
}

func TestPostgresUsesDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Output.Store = "postgres"
	cfg.Output.Path = ""
	require.Error(t, cfg.Validate())
	cfg.Output.DSN = "postgres://localhost/tennessen"
	require.NoError(t, cfg.Validate())
	require.Equal(t, "postgres://localhost/tennessen", cfg.Output.Target())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
simulation:
  mean_effect: 0.25
  sampler: load
  cores: 8
demography:
  final_size: 51200
output:
  path: results.db
overflow:
  sink:
    driver: s3
    s3:
      bucket: genotypes
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 0.25, cfg.Simulation.MeanEffect)
	require.Equal(t, 8, cfg.Simulation.Cores)
	require.Equal(t, 1.25e-4, cfg.Simulation.MutationRate, "unset keys keep defaults")
	require.Equal(t, uint32(51200), cfg.Demography.FinalSize)
	require.Equal(t, uint32(7310), cfg.Demography.AncestralSize)
	require.Equal(t, blob.DriverS3, cfg.Overflow.Sink.Driver)
	require.Equal(t, "genotypes", cfg.Overflow.Sink.S3.Bucket)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation:\n  mutation: 1\n"), 0o644))
	_, err := LoadFromFile(path)
	require.Error(t, err)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadFromEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, Default().Simulation, cfg.Simulation)
}

func TestApplyEnv(t *testing.T) {
	cfg := validConfig()
	err := ApplyEnv(cfg, envMap(map[string]string{
		"TENNESSEN_MEAN_EFFECT":     "0.5",
		"TENNESSEN_CORES":           "16",
		"TENNESSEN_SEED":            "101",
		"TENNESSEN_APPEND":          "true",
		"TENNESSEN_SAMPLER":         "VA",
		"TENNESSEN_BIGSTUB":         "run1",
		"TENNESSEN_OVERFLOW_DRIVER": "memory",
		"TENNESSEN_FINAL_SIZE":      "51200",
		"TENNESSEN_MODEL":           "",
	}))
	require.NoError(t, err)
	require.Equal(t, 0.5, cfg.Simulation.MeanEffect)
	require.Equal(t, 16, cfg.Simulation.Cores)
	require.Equal(t, uint64(101), cfg.Simulation.Seed)
	require.True(t, cfg.Output.Append)
	require.Equal(t, "run1", cfg.Overflow.Stub)
	require.Equal(t, blob.DriverMemory, cfg.Overflow.Sink.Driver)
	require.Equal(t, uint32(51200), cfg.Demography.FinalSize)
	require.Equal(t, "gbr", cfg.Simulation.Model, "empty values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := validConfig()
	err := ApplyEnv(cfg, envMap(map[string]string{"TENNESSEN_TSAMPLE": "often"}))
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "TENNESSEN_TSAMPLE", cfgErr.Field)
	require.Equal(t, 50, cfg.Simulation.SampleInterval)
}

func TestEnvNamesArePrefixed(t *testing.T) {
	names := EnvNames()
	require.Contains(t, names, "TENNESSEN_MUTATION_RATE")
	for _, name := range names {
		require.Regexp(t, `^TENNESSEN_[A-Z0-9_]+$`, name)
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := Invalid("bigstub", "required when sampler is VA", ErrMissingValue)
	require.Equal(t, "invalid bigstub: required when sampler is VA: missing required value", err.Error())
	require.Equal(t, "invalid cores: must be >= 1", Invalid("cores", "must be >= 1", nil).Error())
}
