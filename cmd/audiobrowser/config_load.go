package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"audiobrowser/internal/logging"
	"audiobrowser/internal/sandbox"
	"audiobrowser/internal/version"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	attrBackendXattr  = "xattr"
	attrBackendMemory = "memory"
)

var errConfig = errors.New("configuration error")

// errVersion stops startup after --version was printed.
var errVersion = errors.New("version requested")

type Config struct {
	BasePath    string
	Addr        string
	LogLevel    logging.Level
	Debounce    time.Duration
	Heartbeat   time.Duration
	BusBuffer   int
	MaxWatches  int
	AttrBackend string
	ConfigFile  string
	Sources     map[string]configSource
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

type configDefaults struct {
	Addr        string
	LogLevel    logging.Level
	Debounce    time.Duration
	Heartbeat   time.Duration
	BusBuffer   int
	MaxWatches  int
	AttrBackend string
}

// fileConfig is the YAML layer. Empty strings and nil pointers mean the key
// was not present in the file.
type fileConfig struct {
	BasePath    string `yaml:"base_path"`
	Addr        string `yaml:"addr"`
	LogLevel    string `yaml:"log_level"`
	Debounce    string `yaml:"debounce"`
	Heartbeat   string `yaml:"heartbeat"`
	BusBuffer   *int   `yaml:"bus_buffer"`
	MaxWatches  *int   `yaml:"max_watches"`
	AttrBackend string `yaml:"attr_backend"`
}

type flagValues struct {
	BasePath    string
	Addr        string
	LogLevel    string
	Debounce    time.Duration
	Heartbeat   time.Duration
	BusBuffer   int
	MaxWatches  int
	AttrBackend string
	ConfigFile  string
	Help        bool
	Version     bool
	Set         map[string]bool
}

func defaultConfigValues() configDefaults {
	return configDefaults{
		Addr:        "0.0.0.0:3000",
		LogLevel:    logging.LevelInfo,
		Debounce:    250 * time.Millisecond,
		Heartbeat:   15 * time.Second,
		BusBuffer:   16,
		MaxWatches:  8192,
		AttrBackend: attrBackendXattr,
	}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errConfig, fmt.Sprintf(format, args...))
}

func loadConfig(args []string) (Config, error) {
	defaults := defaultConfigValues()
	flags, err := parseFlags(args, defaults)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Sources: make(map[string]configSource),
	}

	configFile := strings.TrimSpace(os.Getenv("AUDIOBROWSER_CONFIG"))
	configFileSource := sourceEnv
	if configFile == "" {
		configFileSource = sourceDefault
	}
	if flags.Set["config"] {
		configFile = strings.TrimSpace(flags.ConfigFile)
		configFileSource = sourceFlag
	}
	cfg.ConfigFile = configFile
	cfg.Sources["config"] = configFileSource

	file := fileConfig{}
	if configFile != "" {
		file, err = readConfigFile(configFile)
		if err != nil {
			return Config{}, err
		}
	}

	basePath, basePathSource := "", sourceDefault
	if value := strings.TrimSpace(file.BasePath); value != "" {
		basePath, basePathSource = value, sourceFile
	}
	if value := strings.TrimSpace(os.Getenv("FILES_BASE_PATH")); value != "" {
		basePath, basePathSource = value, sourceEnv
	}
	if flags.Set["base-path"] {
		basePath, basePathSource = strings.TrimSpace(flags.BasePath), sourceFlag
	}
	if basePath == "" {
		return Config{}, configErrorf("base path is required (--base-path or FILES_BASE_PATH)")
	}
	canonical, err := sandbox.CanonicalBase(basePath)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfig, err)
	}
	cfg.BasePath = canonical
	cfg.Sources["base-path"] = basePathSource

	addr, addrSource := defaults.Addr, sourceDefault
	if value := strings.TrimSpace(file.Addr); value != "" {
		addr, addrSource = value, sourceFile
	}
	if value := strings.TrimSpace(os.Getenv("AUDIOBROWSER_ADDR")); value != "" {
		addr, addrSource = value, sourceEnv
	}
	if flags.Set["addr"] {
		trimmed := strings.TrimSpace(flags.Addr)
		if trimmed == "" {
			return Config{}, configErrorf("invalid --addr: value cannot be empty")
		}
		addr, addrSource = trimmed, sourceFlag
	}
	cfg.Addr = addr
	cfg.Sources["addr"] = addrSource

	logLevel, logLevelSource := defaults.LogLevel, sourceDefault
	if value := strings.TrimSpace(file.LogLevel); value != "" {
		parsed, ok := logging.ParseLevel(value)
		if !ok {
			return Config{}, configErrorf("invalid log_level in %s: %q", configFile, value)
		}
		logLevel, logLevelSource = parsed, sourceFile
	}
	if value := strings.TrimSpace(os.Getenv("AUDIOBROWSER_LOG_LEVEL")); value != "" {
		parsed, ok := logging.ParseLevel(value)
		if !ok {
			return Config{}, configErrorf("invalid AUDIOBROWSER_LOG_LEVEL: %q", value)
		}
		logLevel, logLevelSource = parsed, sourceEnv
	}
	if flags.Set["log-level"] {
		parsed, ok := logging.ParseLevel(flags.LogLevel)
		if !ok {
			return Config{}, configErrorf("invalid --log-level: %q", flags.LogLevel)
		}
		logLevel, logLevelSource = parsed, sourceFlag
	}
	cfg.LogLevel = logLevel
	cfg.Sources["log-level"] = logLevelSource

	debounce, debounceSource, err := resolveDuration("debounce", "AUDIOBROWSER_DEBOUNCE", defaults.Debounce, file.Debounce, flags.Debounce, flags.Set["debounce"], true)
	if err != nil {
		return Config{}, err
	}
	cfg.Debounce = debounce
	cfg.Sources["debounce"] = debounceSource

	heartbeat, heartbeatSource, err := resolveDuration("heartbeat", "AUDIOBROWSER_HEARTBEAT", defaults.Heartbeat, file.Heartbeat, flags.Heartbeat, flags.Set["heartbeat"], false)
	if err != nil {
		return Config{}, err
	}
	cfg.Heartbeat = heartbeat
	cfg.Sources["heartbeat"] = heartbeatSource

	busBuffer, busBufferSource, err := resolvePositiveInt("bus-buffer", "AUDIOBROWSER_BUS_BUFFER", defaults.BusBuffer, file.BusBuffer, flags.BusBuffer, flags.Set["bus-buffer"])
	if err != nil {
		return Config{}, err
	}
	cfg.BusBuffer = busBuffer
	cfg.Sources["bus-buffer"] = busBufferSource

	maxWatches, maxWatchesSource, err := resolvePositiveInt("max-watches", "AUDIOBROWSER_MAX_WATCHES", defaults.MaxWatches, file.MaxWatches, flags.MaxWatches, flags.Set["max-watches"])
	if err != nil {
		return Config{}, err
	}
	cfg.MaxWatches = maxWatches
	cfg.Sources["max-watches"] = maxWatchesSource

	attrBackend, attrBackendSource := defaults.AttrBackend, sourceDefault
	if value := strings.TrimSpace(file.AttrBackend); value != "" {
		attrBackend, attrBackendSource = value, sourceFile
	}
	if value := strings.TrimSpace(os.Getenv("AUDIOBROWSER_ATTR_BACKEND")); value != "" {
		attrBackend, attrBackendSource = value, sourceEnv
	}
	if flags.Set["attr-backend"] {
		attrBackend, attrBackendSource = strings.TrimSpace(flags.AttrBackend), sourceFlag
	}
	attrBackend = strings.ToLower(attrBackend)
	if attrBackend != attrBackendXattr && attrBackend != attrBackendMemory {
		return Config{}, configErrorf("invalid attr backend %q: want %s or %s", attrBackend, attrBackendXattr, attrBackendMemory)
	}
	cfg.AttrBackend = attrBackend
	cfg.Sources["attr-backend"] = attrBackendSource

	return cfg, nil
}

// resolveDuration layers a duration setting. allowZero admits 0, which the
// debounce window reads as "publish immediately"; negatives are always rejected.
func resolveDuration(name, envKey string, fallback time.Duration, fileValue string, flagValue time.Duration, flagSet, allowZero bool) (time.Duration, configSource, error) {
	bound := "> 0"
	if allowZero {
		bound = ">= 0"
	}
	invalid := func(d time.Duration) bool {
		return d < 0 || (d == 0 && !allowZero)
	}

	value, source := fallback, sourceDefault
	if raw := strings.TrimSpace(fileValue); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || invalid(parsed) {
			return 0, "", configErrorf("invalid %s in config file: %q (must be %s)", name, raw, bound)
		}
		value, source = parsed, sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || invalid(parsed) {
			return 0, "", configErrorf("invalid %s: %q (must be %s)", envKey, raw, bound)
		}
		value, source = parsed, sourceEnv
	}
	if flagSet {
		if invalid(flagValue) {
			return 0, "", configErrorf("invalid --%s: must be %s", name, bound)
		}
		value, source = flagValue, sourceFlag
	}
	return value, source, nil
}

func resolvePositiveInt(name, envKey string, fallback int, fileValue *int, flagValue int, flagSet bool) (int, configSource, error) {
	value, source := fallback, sourceDefault
	if fileValue != nil {
		if *fileValue <= 0 {
			return 0, "", configErrorf("invalid %s in config file: must be > 0", name)
		}
		value, source = *fileValue, sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, "", configErrorf("invalid %s: %q", envKey, raw)
		}
		value, source = parsed, sourceEnv
	}
	if flagSet {
		if flagValue <= 0 {
			return 0, "", configErrorf("invalid --%s: must be > 0", name)
		}
		value, source = flagValue, sourceFlag
	}
	return value, source, nil
}

func readConfigFile(path string) (fileConfig, error) {
	handle, err := os.Open(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("%w: open config file: %w", errConfig, err)
	}
	defer handle.Close()

	var cfg fileConfig
	decoder := yaml.NewDecoder(handle)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, fmt.Errorf("%w: parse config file %s: %w", errConfig, path, err)
	}
	return cfg, nil
}

func parseFlags(args []string, defaults configDefaults) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := pflag.NewFlagSet("audiobrowser", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	basePath := fs.String("base-path", "", "Directory served by the browser")
	addr := fs.String("addr", defaults.Addr, "HTTP listen address")
	logLevel := fs.String("log-level", string(defaults.LogLevel), "Minimum log level (debug, info, warning, error)")
	debounce := fs.Duration("debounce", defaults.Debounce, "Per-path change coalescing window (0 publishes immediately)")
	heartbeat := fs.Duration("heartbeat", defaults.Heartbeat, "Live-update keep-alive interval")
	busBuffer := fs.Int("bus-buffer", defaults.BusBuffer, "Per-subscriber event buffer")
	maxWatches := fs.Int("max-watches", defaults.MaxWatches, "Max watched directories")
	attrBackend := fs.String("attr-backend", defaults.AttrBackend, "Heard flag storage (xattr, memory)")
	configFile := fs.String("config", "", "YAML config file")
	help := fs.BoolP("help", "h", false, "Show help")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(os.Stdout, fs)
		}
		return flagValues{}, err
	}
	if fs.NArg() > 0 {
		return flagValues{}, configErrorf("unexpected argument: %s", fs.Arg(0))
	}

	set := make(map[string]bool)
	fs.Visit(func(flag *pflag.Flag) {
		set[flag.Name] = true
	})

	flags := flagValues{
		BasePath:    *basePath,
		Addr:        *addr,
		LogLevel:    *logLevel,
		Debounce:    *debounce,
		Heartbeat:   *heartbeat,
		BusBuffer:   *busBuffer,
		MaxWatches:  *maxWatches,
		AttrBackend: *attrBackend,
		ConfigFile:  *configFile,
		Help:        *help,
		Version:     *showVersion,
		Set:         set,
	}

	if flags.Help {
		printHelp(os.Stdout, fs)
		return flags, pflag.ErrHelp
	}
	if flags.Version {
		fmt.Fprintln(os.Stdout, "audiobrowser "+version.Get().String())
		return flags, errVersion
	}
	return flags, nil
}

func printHelp(out io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(out, "Usage: audiobrowser --base-path DIR [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Browse a directory of audio files and track which ones were heard.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	fmt.Fprint(out, fs.FlagUsages())
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Environment: FILES_BASE_PATH, AUDIOBROWSER_ADDR, AUDIOBROWSER_LOG_LEVEL,")
	fmt.Fprintln(out, "AUDIOBROWSER_DEBOUNCE, AUDIOBROWSER_HEARTBEAT, AUDIOBROWSER_BUS_BUFFER,")
	fmt.Fprintln(out, "AUDIOBROWSER_MAX_WATCHES, AUDIOBROWSER_ATTR_BACKEND, AUDIOBROWSER_CONFIG")
}

func logStartupConfig(logger *logging.Logger, cfg Config) {
	if logger == nil {
		return
	}
	fields := map[string]string{
		"version":      version.Get().String(),
		"base_path":    cfg.BasePath,
		"addr":         cfg.Addr,
		"debounce":     cfg.Debounce.String(),
		"heartbeat":    cfg.Heartbeat.String(),
		"bus_buffer":   strconv.Itoa(cfg.BusBuffer),
		"max_watches":  strconv.Itoa(cfg.MaxWatches),
		"attr_backend": cfg.AttrBackend,
	}
	overridden := []string{}
	for _, key := range []string{"base-path", "addr", "log-level", "debounce", "heartbeat", "bus-buffer", "max-watches", "attr-backend", "config"} {
		if source := cfg.Sources[key]; source != sourceDefault && source != "" {
			overridden = append(overridden, key+"="+string(source))
		}
	}
	if len(overridden) > 0 {
		fields["sources"] = strings.Join(overridden, " ")
	}
	logger.Info("configuration loaded", fields)
}
