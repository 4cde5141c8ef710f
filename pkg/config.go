package pkg

import (
	"path/filepath"
	"strings"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ConfigFile is looked up in the project root
const ConfigFile = "skiabuild.toml"

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" toml:"level" usage:"Log level (debug, info, warn, error)"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSON lines instead of colored console messages"`
	} `toml:"log"`

	CC       string `default:"clang" toml:"cc" usage:"C compiler passed to gn"`
	CXX      string `default:"clang++" toml:"cxx" usage:"C++ compiler passed to gn"`
	Official string `default:"true" toml:"official" usage:"Build with is_official_build=true"`
	Debug    string `default:"false" toml:"debug" usage:"Build with is_debug=true"`
	Ccache   string `toml:"ccache" usage:"Compiler wrapper passed to gn as cc_wrapper"`
	Python   string `default:"python" toml:"python" usage:"Python interpreter used to sync Skia's dependencies"`
	BuildDir string `default:"out/Release" toml:"build_dir" usage:"gn output directory relative to the Skia checkout"`
	DistDir  string `default:"out" toml:"dist_dir" usage:"Packaging directory relative to the project root"`
	Name     string `default:"libskia" toml:"name" usage:"Package name"`
	Version  string `default:"m63" toml:"version" usage:"Package version"`
	Arch     string `toml:"arch" usage:"Package architecture (defaults to the host processor)"`
	Format   string `default:"tar.gz" toml:"format" usage:"Archive format (tar.gz, tar.xz or tar.br)"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. Values are read from
// skiabuild.toml in projectRoot and SKIABUILD_* environment variables.
func Loader(projectRoot string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "SKIABUILD",
		Files:     []string{filepath.Join(projectRoot, ConfigFile)},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// LoadConfig loads and validates the configuration for the given project
func LoadConfig(projectRoot string) (*Config, error) {
	cfg, loader := Loader(projectRoot)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to load configuration")
	}

	if cfg.Arch == "" {
		cfg.Arch = HostArch()
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	for name, value := range map[string]string{"official": cfg.Official, "debug": cfg.Debug} {
		if value != "true" && value != "false" {
			return eris.Errorf(`Invalid value for %s: %s (must be true or false)`, name, value)
		}
	}

	validFormat := false
	for _, format := range ArchiveFormats {
		if cfg.Format == format {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return eris.Errorf(`Invalid value for format: %s (must be one of %s)`, cfg.Format, strings.Join(ArchiveFormats, ", "))
	}

	if cfg.Name == "" || cfg.Version == "" {
		return eris.New("name and version must not be empty")
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// PackageName returns the name of the top-level folder inside the package
func (cfg *Config) PackageName() string {
	return cfg.Name + "-" + cfg.Version + "-" + cfg.Arch
}

func (cfg *Config) optionFields() map[string]*string {
	return map[string]*string{
		"cc":        &cfg.CC,
		"cxx":       &cfg.CXX,
		"official":  &cfg.Official,
		"debug":     &cfg.Debug,
		"ccache":    &cfg.Ccache,
		"python":    &cfg.Python,
		"build_dir": &cfg.BuildDir,
		"dist_dir":  &cfg.DistDir,
		"name":      &cfg.Name,
		"version":   &cfg.Version,
		"arch":      &cfg.Arch,
		"format":    &cfg.Format,
	}
}

// Options converts the build settings into the option map passed to the build script
func (cfg *Config) Options() map[string]string {
	fields := cfg.optionFields()
	result := make(map[string]string, len(fields))
	for name, field := range fields {
		result[name] = *field
	}
	return result
}

// Apply overrides build settings with options passed on the command line and validates the result. Options
// which don't correspond to a build setting are ignored; the build script decides whether it knows them.
func (cfg *Config) Apply(options map[string]string) error {
	fields := cfg.optionFields()
	for name, value := range options {
		if field, ok := fields[name]; ok {
			*field = value
		}
	}

	return cfg.Validate()
}
