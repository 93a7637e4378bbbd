package logging

import (
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Resource kinds reported under "resources" in the cold-start event.
const (
	kindS3Bucket     = "s3Buckets"
	kindDynamoTable  = "dynamoTables"
	kindSSMParam     = "ssmParams"
	kindStateMachine = "stateMachines"
	kindEventBus     = "eventBuses"
)

// StartupLogger gathers what a Lambda was configured with during init()
// and logs it as one cold-start event.
type StartupLogger struct {
	name       string
	commitHash string
	buildTime  string
	initTook   time.Duration

	resources map[string]map[string]string
	features  map[string]bool
	settings  map[string]string
}

// NewStartupLogger creates a StartupLogger for the named Lambda.
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		resources: make(map[string]map[string]string),
		features:  make(map[string]bool),
		settings:  make(map[string]string),
	}
}

func (s *StartupLogger) resource(kind, label, name string) *StartupLogger {
	if name == "" {
		return s
	}
	m, ok := s.resources[kind]
	if !ok {
		m = make(map[string]string)
		s.resources[kind] = m
	}
	m[label] = name
	return s
}

func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

func (s *StartupLogger) BuildTime(t string) *StartupLogger {
	s.buildTime = t
	return s
}

// S3Bucket, DynamoTable, SSMParam, StateMachine and EventBus record the
// resources a Lambda talks to. Empty names are skipped, so optional
// resources can be passed straight from the environment.
func (s *StartupLogger) S3Bucket(label, name string) *StartupLogger {
	return s.resource(kindS3Bucket, label, name)
}

func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	return s.resource(kindDynamoTable, label, name)
}

// SSMParam logs the parameter path only, never its value.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	return s.resource(kindSSMParam, label, path)
}

func (s *StartupLogger) StateMachine(label, arn string) *StartupLogger {
	return s.resource(kindStateMachine, label, arn)
}

func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	return s.resource(kindEventBus, label, name)
}

// Feature records an on/off switch such as "frameSnapshots".
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config records a non-sensitive setting.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.settings[key] = value
	return s
}

func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initTook = d
	return s
}

// Log writes the cold-start event at INFO. Empty sections are left out.
func (s *StartupLogger) Log() {
	fn := zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", ParseLevel(os.Getenv(LevelEnvVar)).String())
	if s.commitHash != "" {
		fn = fn.Str("commitHash", s.commitHash)
	}
	if s.buildTime != "" {
		fn = fn.Str("buildTime", s.buildTime)
	}
	evt := log.Info().Dict("lambda", fn)

	if len(s.resources) > 0 {
		res := zerolog.Dict()
		for _, kind := range sortedKeys(s.resources) {
			res = res.Dict(kind, strDict(s.resources[kind]))
		}
		evt = evt.Dict("resources", res)
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for _, k := range sortedKeys(s.features) {
			d = d.Bool(k, s.features[k])
		}
		evt = evt.Dict("features", d)
	}
	if len(s.settings) > 0 {
		evt = evt.Dict("config", strDict(s.settings))
	}
	if s.initTook > 0 {
		evt = evt.Dur("initDuration", s.initTook)
	}
	evt.Msg("Lambda cold start complete")
}

func strDict(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for _, k := range sortedKeys(m) {
		d = d.Str(k, m[k])
	}
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
