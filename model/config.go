package model

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// TESTS FILE
// ============================================================================

type TestsFile struct {
	Tests  []TestCase  `json:"tests"`
	Config SuiteConfig `json:"config,omitempty"`
}

// SuiteConfig carries suite-wide knobs. FirstPartyModels is the allow-list
// that selects the in-process execution path; anything else goes through the
// backend proxy.
type SuiteConfig struct {
	Concurrency      int      `json:"concurrency,omitempty"`
	FirstPartyModels []string `json:"firstPartyModels,omitempty"`
	BackendURL       string   `json:"backendUrl,omitempty"`
}

type TestCase struct {
	Title             string         `json:"title"`
	Prompt            string         `json:"prompt"`
	Model             ModelDef       `json:"model"`
	ExpectedToolCalls []string       `json:"expectedToolCalls,omitempty"`
	Runs              int            `json:"runs,omitempty"`
	Servers           []string       `json:"servers,omitempty"`
	Advanced          AdvancedConfig `json:"advancedConfig,omitempty"`
}

type ModelDef struct {
	ID       string       `json:"id"`
	Provider ProviderType `json:"provider"`
}

type AdvancedConfig struct {
	System       string   `json:"system,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	ToolChoice   string   `json:"toolChoice,omitempty"`
	TimeoutMs    int      `json:"timeoutMs,omitempty"`
	MaxSteps     int      `json:"maxSteps,omitempty"`
	AllowedTools []string `json:"allowedTools,omitempty"`
}

type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderDeepSeek  ProviderType = "deepseek"
	ProviderOllama    ProviderType = "ollama"
	ProviderGoogle    ProviderType = "google"
	ProviderAzure     ProviderType = "azure"
	ProviderBedrock   ProviderType = "bedrock"
)

var SupportedProviders = []ProviderType{
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderDeepSeek,
	ProviderOllama,
	ProviderGoogle,
	ProviderAzure,
	ProviderBedrock,
}

func IsSupportedProvider(p ProviderType) bool {
	for _, sp := range SupportedProviders {
		if sp == p {
			return true
		}
	}
	return false
}

const (
	DefaultMaxSteps = 10
	MaxStepsCeiling = 20

	DefaultConcurrency = 4
	ConcurrencyCeiling = 8
	ConcurrencyFloor   = 1
)

// ============================================================================
// ENVIRONMENT FILE
// ============================================================================

type EnvironmentFile struct {
	Servers         map[string]ServerConfig     `json:"servers"`
	ProviderAPIKeys map[string]string           `json:"providerApiKeys,omitempty"`
	Providers       map[string]ProviderSettings `json:"providers,omitempty"`
	Tracker         TrackerConfig               `json:"tracker,omitempty"`
}

// ServerConfig is one entry of the environment server map. A stdio server
// carries command/args/env, a remote server carries url/headers. Exactly one
// of the two forms must be present.
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (s ServerConfig) IsStdio() bool {
	return s.Command != ""
}

// ProviderSettings holds the provider options that don't fit the plain
// api-key map: azure endpoint/auth, bedrock credentials, ollama host.
type ProviderSettings struct {
	BaseURL         string `json:"baseUrl,omitempty"`
	APIVersion      string `json:"apiVersion,omitempty"`
	AuthType        string `json:"authType,omitempty"`
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
}

type TrackerConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// ============================================================================
// ERRORS
// ============================================================================

// ConfigValidationError is fatal before any test runs. It reports every
// offender at once: all unresolved ${VAR} names and all shape problems.
type ConfigValidationError struct {
	MissingEnv []string
	Problems   []string
}

func (e *ConfigValidationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.MissingEnv) > 0 {
		parts = append(parts, fmt.Sprintf("undefined environment variables: %s", strings.Join(e.MissingEnv, ", ")))
	}
	if len(e.Problems) > 0 {
		parts = append(parts, strings.Join(e.Problems, "; "))
	}
	if len(parts) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

type UnsupportedProviderError struct {
	Provider ProviderType
	Test     string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("test %q references unsupported model provider %q", e.Test, e.Provider)
}

// ============================================================================
// ${VAR} SUBSTITUTION
// ============================================================================

// envVarPattern matches ${NAME} with an optional $ escape in front.
// $${NAME} renders as the literal ${NAME} and resolves nothing.
var envVarPattern = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type envLookup func(string) (string, bool)

// SubstituteEnv walks an untyped config tree and replaces every ${NAME}
// occurrence in string values from the process environment. All missing
// names across the whole document are collected; when any name is missing
// the original tree is returned untouched so no partial substitution can
// ever be observed.
func SubstituteEnv(doc any) (any, *ConfigValidationError) {
	return substituteEnv(doc, os.LookupEnv)
}

func substituteEnv(doc any, lookup envLookup) (any, *ConfigValidationError) {
	missing := make(map[string]bool)
	substituted := substituteValue(doc, lookup, missing)

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return doc, &ConfigValidationError{MissingEnv: names}
	}

	return substituted, nil
}

func substituteValue(v any, lookup envLookup, missing map[string]bool) any {
	switch val := v.(type) {
	case string:
		return substituteString(val, lookup, missing)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, lookup, missing)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, lookup, missing)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, lookup envLookup, missing map[string]bool) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "$$") {
			return match[1:]
		}
		name := match[2 : len(match)-1]
		value, ok := lookup(name)
		if !ok {
			missing[name] = true
			return match
		}
		return value
	})
}

// ============================================================================
// PARSING
// ============================================================================

// decodeConfigDocument reads a JSON document (YAML accepted as a superset),
// applies ${VAR} substitution over the untyped tree, then decodes the
// substituted tree into out.
func decodeConfigDocument(data []byte, out any) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config document: %w", err)
	}

	substituted, subErr := SubstituteEnv(doc)
	if subErr != nil {
		return subErr
	}

	normalized, err := sonic.Marshal(substituted)
	if err != nil {
		return fmt.Errorf("failed to normalize config document: %w", err)
	}
	if err := sonic.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("failed to decode config document: %w", err)
	}
	return nil
}

func ParseTestsFile(path string) (*TestsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tests file: %w", err)
	}
	return ParseTestsFileFromBytes(data)
}

func ParseTestsFileFromBytes(data []byte) (*TestsFile, error) {
	var tf TestsFile
	if err := decodeConfigDocument(data, &tf); err != nil {
		return nil, err
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return &tf, nil
}

func ParseEnvironmentFile(path string) (*EnvironmentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment file: %w", err)
	}
	return ParseEnvironmentFileFromBytes(data)
}

func ParseEnvironmentFileFromBytes(data []byte) (*EnvironmentFile, error) {
	var ef EnvironmentFile
	if err := decodeConfigDocument(data, &ef); err != nil {
		return nil, err
	}
	if err := ef.Validate(); err != nil {
		return nil, err
	}
	return &ef, nil
}

// ============================================================================
// VALIDATION
// ============================================================================

func (tf *TestsFile) Validate() error {
	problems := make([]string, 0)

	for i, tc := range tf.Tests {
		label := tc.Title
		if label == "" {
			label = fmt.Sprintf("tests[%d]", i)
			problems = append(problems, fmt.Sprintf("%s: title is required", label))
		}
		if strings.TrimSpace(tc.Prompt) == "" {
			problems = append(problems, fmt.Sprintf("%s: prompt is required", label))
		}
		if tc.Model.ID == "" {
			problems = append(problems, fmt.Sprintf("%s: model.id is required", label))
		}
		if tc.Model.Provider == "" {
			problems = append(problems, fmt.Sprintf("%s: model.provider is required", label))
		} else if !IsSupportedProvider(tc.Model.Provider) {
			return &UnsupportedProviderError{Provider: tc.Model.Provider, Test: label}
		}
		if tc.Runs < 0 {
			problems = append(problems, fmt.Sprintf("%s: runs must not be negative", label))
		}
		if tc.Advanced.TimeoutMs < 0 {
			problems = append(problems, fmt.Sprintf("%s: advancedConfig.timeoutMs must not be negative", label))
		}
		if tc.Advanced.MaxSteps < 0 || tc.Advanced.MaxSteps > MaxStepsCeiling {
			problems = append(problems, fmt.Sprintf("%s: advancedConfig.maxSteps must be between 0 and %d", label, MaxStepsCeiling))
		}
		if t := tc.Advanced.Temperature; t != nil && (*t < 0 || *t > 2) {
			problems = append(problems, fmt.Sprintf("%s: advancedConfig.temperature must be between 0 and 2", label))
		}
	}

	if tf.Config.Concurrency < 0 {
		problems = append(problems, "config.concurrency must not be negative")
	}

	if len(problems) > 0 {
		return &ConfigValidationError{Problems: problems}
	}
	return nil
}

func (ef *EnvironmentFile) Validate() error {
	problems := make([]string, 0)

	for name, srv := range ef.Servers {
		switch {
		case srv.Command != "" && srv.URL != "":
			problems = append(problems, fmt.Sprintf("server %q: command and url are mutually exclusive", name))
		case srv.Command == "" && srv.URL == "":
			problems = append(problems, fmt.Sprintf("server %q: either command or url is required", name))
		case srv.URL != "":
			if _, err := url.Parse(srv.URL); err != nil {
				problems = append(problems, fmt.Sprintf("server %q: invalid url: %v", name, err))
			} else if !strings.HasPrefix(srv.URL, "http://") && !strings.HasPrefix(srv.URL, "https://") {
				problems = append(problems, fmt.Sprintf("server %q: url must start with http:// or https://", name))
			}
		}
	}

	if ef.Tracker.Enabled && ef.Tracker.APIKey == "" {
		problems = append(problems, "tracker.apiKey is required when tracker is enabled")
	}

	if len(problems) > 0 {
		return &ConfigValidationError{Problems: problems}
	}
	return nil
}

// ValidateTestServers cross-checks that every server a test selects exists
// in the environment map. An empty selection means all configured servers.
func ValidateTestServers(tf *TestsFile, ef *EnvironmentFile) error {
	problems := make([]string, 0)
	for _, tc := range tf.Tests {
		for _, name := range tc.Servers {
			if _, ok := ef.Servers[name]; !ok {
				problems = append(problems, fmt.Sprintf("test %q references unknown server %q", tc.Title, name))
			}
		}
	}
	if len(problems) > 0 {
		return &ConfigValidationError{Problems: problems}
	}
	return nil
}

// EffectiveRuns returns the repetition count, defaulting to a single run.
func (tc TestCase) EffectiveRuns() int {
	if tc.Runs <= 0 {
		return 1
	}
	return tc.Runs
}

// EffectiveMaxSteps returns the step budget, clamped to the ceiling.
func (tc TestCase) EffectiveMaxSteps() int {
	if tc.Advanced.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	if tc.Advanced.MaxSteps > MaxStepsCeiling {
		return MaxStepsCeiling
	}
	return tc.Advanced.MaxSteps
}

// EffectiveConcurrency clamps the worker cap to [floor, ceiling].
func (c SuiteConfig) EffectiveConcurrency() int {
	if c.Concurrency == 0 {
		return DefaultConcurrency
	}
	if c.Concurrency < ConcurrencyFloor {
		return ConcurrencyFloor
	}
	if c.Concurrency > ConcurrencyCeiling {
		return ConcurrencyCeiling
	}
	return c.Concurrency
}
