package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"plangate/internal/gate"
)

type MatchConfig struct {
	// Threshold 匹配接受阈值，必须严格超过才算命中
	// Threshold is the Jaccard score a report entry must strictly exceed.
	Threshold float64 `json:"threshold"`
}

type GateConfig struct {
	MaxStopAttempts int      `json:"max_stop_attempts"`
	OverridePhrases []string `json:"override_phrases"`
}

type RetentionConfig struct {
	ContinuationDays int `json:"continuation_days"`
	ArchiveKeep      int `json:"archive_keep"`
	HistoryKeep      int `json:"history_keep"`
}

type CostConfig struct {
	LimitUSD     float64 `json:"limit_usd"`
	WarnFraction float64 `json:"warn_fraction"`
}

type VerifyConfig struct {
	Enabled             bool    `json:"enabled"`
	BaseURL             string  `json:"base_url"`
	Model               string  `json:"model"`
	APIKey              string  `json:"api_key"`
	TimeoutMS           int     `json:"timeout_ms"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type NotifyConfig struct {
	TCPAddr    string `json:"tcp_addr"`
	WebhookURL string `json:"webhook_url"`
	File       string `json:"file"`
	TimeoutMS  int    `json:"timeout_ms"`
}

type ValidationConfig struct {
	Commands []string `json:"commands"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

// DBPath 数据库文件路径 / path of the SQLite database file
func (s StorageConfig) DBPath() string {
	return filepath.Join(s.BaseDir, "plangate.db")
}

// ArchiveDir 归档目录 / directory for plan archive files
func (s StorageConfig) ArchiveDir() string {
	return filepath.Join(s.BaseDir, "archives")
}

// LogDir 调试日志目录 / directory for per-component debug logs
func (s StorageConfig) LogDir() string {
	return filepath.Join(s.BaseDir, "logs")
}

type Config struct {
	Match      MatchConfig      `json:"match"`
	Gate       GateConfig       `json:"gate"`
	Retention  RetentionConfig  `json:"retention"`
	Cost       CostConfig       `json:"cost"`
	Verify     VerifyConfig     `json:"verify"`
	Notify     NotifyConfig     `json:"notify"`
	Validation ValidationConfig `json:"validation"`
	Storage    StorageConfig    `json:"storage"`
}

type fileMatchConfig struct {
	Threshold *float64 `json:"threshold"`
}

type fileGateConfig struct {
	MaxStopAttempts *int      `json:"max_stop_attempts"`
	OverridePhrases *[]string `json:"override_phrases"`
}

type fileRetentionConfig struct {
	ContinuationDays *int `json:"continuation_days"`
	ArchiveKeep      *int `json:"archive_keep"`
	HistoryKeep      *int `json:"history_keep"`
}

type fileCostConfig struct {
	LimitUSD     *float64 `json:"limit_usd"`
	WarnFraction *float64 `json:"warn_fraction"`
}

type fileVerifyConfig struct {
	Enabled             *bool    `json:"enabled"`
	BaseURL             *string  `json:"base_url"`
	Model               *string  `json:"model"`
	APIKey              *string  `json:"api_key"`
	TimeoutMS           *int     `json:"timeout_ms"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
}

type fileNotifyConfig struct {
	TCPAddr    *string `json:"tcp_addr"`
	WebhookURL *string `json:"webhook_url"`
	File       *string `json:"file"`
	TimeoutMS  *int    `json:"timeout_ms"`
}

type fileConfig struct {
	Match      *fileMatchConfig     `json:"match"`
	Gate       *fileGateConfig      `json:"gate"`
	Retention  *fileRetentionConfig `json:"retention"`
	Cost       *fileCostConfig      `json:"cost"`
	Verify     *fileVerifyConfig    `json:"verify"`
	Notify     *fileNotifyConfig    `json:"notify"`
	Validation *ValidationConfig    `json:"validation"`
	Storage    *StorageConfig       `json:"storage"`
}

func Default() Config {
	return Config{
		Match: MatchConfig{Threshold: 0.3},
		Gate: GateConfig{
			MaxStopAttempts: gate.DefaultMaxAttempts,
			OverridePhrases: append([]string(nil), gate.DefaultOverridePhrases...),
		},
		Retention: RetentionConfig{
			ContinuationDays: 7,
			ArchiveKeep:      50,
			HistoryKeep:      100,
		},
		Cost: CostConfig{
			LimitUSD:     10.0,
			WarnFraction: 0.8,
		},
		Verify: VerifyConfig{
			Enabled:             false,
			BaseURL:             "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:               "qwen3-coder-30b-a3b-instruct",
			TimeoutMS:           30000,
			ConfidenceThreshold: 0.7,
		},
		Notify: NotifyConfig{
			TimeoutMS: 2000,
		},
		Storage: StorageConfig{
			BaseDir: "~/.plangate",
		},
	}
}

// Load 按 默认值 < 全局配置 < 项目配置 < 环境变量 的顺序合并配置。
// 无效值回落到默认值而不报错。
// Load merges configuration in order: defaults, then the global file, then
// the project file (or an explicit path), then PLANGATE_* environment
// variables. Invalid values fall back to defaults rather than failing.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("PLANGATE_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".plangate", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"plangate.config.json",
		".plangate/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Match != nil && fc.Match.Threshold != nil {
		cfg.Match.Threshold = *fc.Match.Threshold
	}
	if fc.Gate != nil {
		if fc.Gate.MaxStopAttempts != nil {
			cfg.Gate.MaxStopAttempts = *fc.Gate.MaxStopAttempts
		}
		if fc.Gate.OverridePhrases != nil {
			cfg.Gate.OverridePhrases = append([]string(nil), (*fc.Gate.OverridePhrases)...)
		}
	}
	if fc.Retention != nil {
		if fc.Retention.ContinuationDays != nil {
			cfg.Retention.ContinuationDays = *fc.Retention.ContinuationDays
		}
		if fc.Retention.ArchiveKeep != nil {
			cfg.Retention.ArchiveKeep = *fc.Retention.ArchiveKeep
		}
		if fc.Retention.HistoryKeep != nil {
			cfg.Retention.HistoryKeep = *fc.Retention.HistoryKeep
		}
	}
	if fc.Cost != nil {
		if fc.Cost.LimitUSD != nil {
			cfg.Cost.LimitUSD = *fc.Cost.LimitUSD
		}
		if fc.Cost.WarnFraction != nil {
			cfg.Cost.WarnFraction = *fc.Cost.WarnFraction
		}
	}
	if fc.Verify != nil {
		if fc.Verify.Enabled != nil {
			cfg.Verify.Enabled = *fc.Verify.Enabled
		}
		if fc.Verify.BaseURL != nil && strings.TrimSpace(*fc.Verify.BaseURL) != "" {
			cfg.Verify.BaseURL = *fc.Verify.BaseURL
		}
		if fc.Verify.Model != nil && strings.TrimSpace(*fc.Verify.Model) != "" {
			cfg.Verify.Model = *fc.Verify.Model
		}
		if fc.Verify.APIKey != nil && strings.TrimSpace(*fc.Verify.APIKey) != "" {
			cfg.Verify.APIKey = *fc.Verify.APIKey
		}
		if fc.Verify.TimeoutMS != nil {
			cfg.Verify.TimeoutMS = *fc.Verify.TimeoutMS
		}
		if fc.Verify.ConfidenceThreshold != nil {
			cfg.Verify.ConfidenceThreshold = *fc.Verify.ConfidenceThreshold
		}
	}
	if fc.Notify != nil {
		if fc.Notify.TCPAddr != nil {
			cfg.Notify.TCPAddr = *fc.Notify.TCPAddr
		}
		if fc.Notify.WebhookURL != nil {
			cfg.Notify.WebhookURL = *fc.Notify.WebhookURL
		}
		if fc.Notify.File != nil {
			cfg.Notify.File = *fc.Notify.File
		}
		if fc.Notify.TimeoutMS != nil {
			cfg.Notify.TimeoutMS = *fc.Notify.TimeoutMS
		}
	}
	if fc.Validation != nil {
		cfg.Validation.Commands = append([]string(nil), fc.Validation.Commands...)
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.BaseDir) != "" {
		cfg.Storage.BaseDir = fc.Storage.BaseDir
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PLANGATE_BASE_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANGATE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Match.Threshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("PLANGATE_MAX_STOP_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gate.MaxStopAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PLANGATE_COST_LIMIT")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.LimitUSD = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("PLANGATE_API_KEY")); v != "" {
		cfg.Verify.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANGATE_VERIFY")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verify.Enabled = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("PLANGATE_WEBHOOK_URL")); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANGATE_TCP_ADDR")); v != "" {
		cfg.Notify.TCPAddr = v
	}
}

// normalize 将越界或缺失的值拉回默认值 / pull out-of-range values back to defaults
func normalize(cfg *Config) error {
	def := Default()

	if cfg.Match.Threshold <= 0 || cfg.Match.Threshold >= 1 {
		cfg.Match.Threshold = def.Match.Threshold
	}
	if cfg.Gate.MaxStopAttempts <= 0 {
		cfg.Gate.MaxStopAttempts = def.Gate.MaxStopAttempts
	}
	cfg.Gate.OverridePhrases = normalizePhrases(cfg.Gate.OverridePhrases)
	if len(cfg.Gate.OverridePhrases) == 0 {
		cfg.Gate.OverridePhrases = def.Gate.OverridePhrases
	}

	if cfg.Retention.ContinuationDays <= 0 {
		cfg.Retention.ContinuationDays = def.Retention.ContinuationDays
	}
	if cfg.Retention.ArchiveKeep <= 0 {
		cfg.Retention.ArchiveKeep = def.Retention.ArchiveKeep
	}
	if cfg.Retention.HistoryKeep <= 0 {
		cfg.Retention.HistoryKeep = def.Retention.HistoryKeep
	}

	if cfg.Cost.LimitUSD <= 0 {
		cfg.Cost.LimitUSD = def.Cost.LimitUSD
	}
	if cfg.Cost.WarnFraction <= 0 || cfg.Cost.WarnFraction > 1 {
		cfg.Cost.WarnFraction = def.Cost.WarnFraction
	}

	if cfg.Verify.TimeoutMS <= 0 {
		cfg.Verify.TimeoutMS = def.Verify.TimeoutMS
	}
	if cfg.Verify.ConfidenceThreshold <= 0 || cfg.Verify.ConfidenceThreshold > 1 {
		cfg.Verify.ConfidenceThreshold = def.Verify.ConfidenceThreshold
	}
	if cfg.Notify.TimeoutMS <= 0 {
		cfg.Notify.TimeoutMS = def.Notify.TimeoutMS
	}

	baseDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if baseDir == "" {
		baseDir, err = expandPath(def.Storage.BaseDir)
		if err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = baseDir

	cfg.Validation.Commands = normalizePhrases(cfg.Validation.Commands)
	return nil
}

func normalizePhrases(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, it := range items {
		trimmed := strings.TrimSpace(it)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
