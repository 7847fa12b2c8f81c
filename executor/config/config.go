// Package config holds the search engine configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

type ModelConfig struct {
	ModelPath      string `json:"model_path"`
	IntraOpThreads int    `json:"intra_op_threads"`
	InterOpThreads int    `json:"inter_op_threads"`
	UseCUDA        bool   `json:"use_cuda"`
	CUDADevice     int    `json:"cuda_device"`
}

// DistConfig configures remote model backends.
type DistConfig struct {
	TimeoutMs                 int64 `json:"timeout_ms"`
	EnableLeakyBucket         bool  `json:"enable_leaky_bucket"`
	LeakyBucketSize           int   `json:"leaky_bucket_size"`
	LeakyBucketRefillPeriodMs int64 `json:"leaky_bucket_refill_period_ms"`
}

func (d DistConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

func (d DistConfig) RefillPeriod() time.Duration {
	return time.Duration(d.LeakyBucketRefillPeriodMs) * time.Millisecond
}

// TimeControl times are in seconds.
type TimeControl struct {
	Enable       bool    `json:"enable"`
	MainTime     float64 `json:"main_time"`
	ByoYomiTime  float64 `json:"byo_yomi_time"`
	ReservedTime float64 `json:"reserved_time"`
	MinTime      float64 `json:"min_time"`
	CDenom       int     `json:"c_denom"`
	CMaxply      int     `json:"c_maxply"`
	ByoYomiAfter int     `json:"byo_yomi_after"`
}

type EarlyStop struct {
	Enable        bool    `json:"enable"`
	CheckEveryMs  int64   `json:"check_every_ms"`
	SimsThreshold int64   `json:"sims_threshold"`
	SimsFactor    float64 `json:"sims_factor"`
}

type UnstableOvertime struct {
	Enable     bool    `json:"enable"`
	TimeFactor float64 `json:"time_factor"`
}

type BehindOvertime struct {
	Enable       bool    `json:"enable"`
	TimeFactor   float64 `json:"time_factor"`
	ActThreshold float32 `json:"act_threshold"`
}

type Debugger struct {
	PrintTreeDepth int `json:"print_tree_depth"`
	PrintTreeWidth int `json:"print_tree_width"`
}

type Config struct {
	NumEvalThreads   int `json:"num_eval_threads"`
	NumSearchThreads int `json:"num_search_threads"`

	MaxChildrenPerNode    int   `json:"max_children_per_node"`
	MaxSearchTreeSize     int64 `json:"max_search_tree_size"`
	TimeoutMsPerStep      int64 `json:"timeout_ms_per_step"`
	MaxSimulationsPerStep int64 `json:"max_simulations_per_step"`

	EvalBatchSize          int   `json:"eval_batch_size"`
	EvalWaitBatchTimeoutUs int64 `json:"eval_wait_batch_timeout_us"`
	EvalTaskQueueSize      int   `json:"eval_task_queue_size"`

	CPuct                   float32 `json:"c_puct"`
	VirtualLoss             float32 `json:"virtual_loss"`
	VirtualLossMode         int     `json:"virtual_loss_mode"`
	DefaultAct              float32 `json:"default_act"`
	InheritDefaultAct       bool    `json:"inherit_default_act"`
	InheritDefaultActFactor float32 `json:"inherit_default_act_factor"`

	EnableResign    bool    `json:"enable_resign"`
	VResign         float32 `json:"v_resign"`
	ResignMode      int     `json:"resign_mode"`
	GetBestMoveMode int     `json:"get_best_move_mode"`

	EnableBackgroundSearch bool `json:"enable_background_search"`
	ClearSearchTreePerMove bool `json:"clear_search_tree_per_move"`

	EnableDirichletNoise bool    `json:"enable_dirichlet_noise"`
	DirichletNoiseAlpha  float64 `json:"dirichlet_noise_alpha"`
	DirichletNoiseRatio  float32 `json:"dirichlet_noise_ratio"`

	EnablePolicyTemperature bool    `json:"enable_policy_temperature"`
	PolicyTemperature       float32 `json:"policy_temperature"`
	GenmoveTemperature      float32 `json:"genmove_temperature"`

	DisableTransform         bool `json:"disable_transform"`
	DisablePositionalSuperko bool `json:"disable_positional_superko"`
	DisableDoublePassScoring bool `json:"disable_double_pass_scoring"`
	DisablePass              bool `json:"disable_pass"`
	EnablePassPass           bool `json:"enable_pass_pass"`
	MaxGenPasses             int  `json:"max_gen_passes"`

	MonitorLogEveryMs int64 `json:"monitor_log_every_ms"`

	EnableDist   bool     `json:"enable_dist"`
	EnableAsync  bool     `json:"enable_async"`
	DistSvrAddrs []string `json:"dist_svr_addrs"`

	ModelConfig      ModelConfig      `json:"model_config"`
	DistConfig       DistConfig       `json:"dist_config"`
	TimeControl      TimeControl      `json:"time_control"`
	EarlyStop        EarlyStop        `json:"early_stop"`
	UnstableOvertime UnstableOvertime `json:"unstable_overtime"`
	BehindOvertime   BehindOvertime   `json:"behind_overtime"`
	Debugger         Debugger         `json:"debugger"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		NumEvalThreads:         1,
		NumSearchThreads:       8,
		MaxChildrenPerNode:     64,
		MaxSearchTreeSize:      400_000_000,
		TimeoutMsPerStep:       30_000,
		EvalBatchSize:          4,
		EvalWaitBatchTimeoutUs: 100,
		CPuct:                  2.5,
		VirtualLoss:            1,
		InheritDefaultAct:      true,
		EnableResign:           true,
		VResign:                -0.9,
		DirichletNoiseAlpha:    0.03,
		DirichletNoiseRatio:    0.25,
		PolicyTemperature:      0.67,
		EnableBackgroundSearch: true,
		ModelConfig: ModelConfig{
			ModelPath: "models/zero.onnx",
		},
		DistConfig: DistConfig{
			TimeoutMs:                 1000,
			LeakyBucketSize:           3,
			LeakyBucketRefillPeriodMs: 10_000,
		},
		TimeControl: TimeControl{
			Enable:       true,
			ReservedTime: 1,
			CDenom:       20,
			CMaxply:      40,
		},
		EarlyStop: EarlyStop{
			Enable:        true,
			CheckEveryMs:  100,
			SimsThreshold: 2000,
			SimsFactor:    1,
		},
		UnstableOvertime: UnstableOvertime{Enable: true, TimeFactor: 0.3},
		BehindOvertime:   BehindOvertime{Enable: true, TimeFactor: 0.3},
		Debugger:         Debugger{PrintTreeDepth: 1, PrintTreeWidth: 10},
	}
}

// Load reads a JSON config file. Fields missing from the file keep their
// Default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.NumSearchThreads <= 0 {
		errs = append(errs, errors.New("num_search_threads must be positive"))
	}
	if c.NumEvalThreads < 0 {
		errs = append(errs, errors.New("num_eval_threads must not be negative"))
	}
	if c.NumEvalThreads > 0 && c.EvalBatchSize <= 0 {
		errs = append(errs, errors.New("eval_batch_size must be positive when batching"))
	}
	if c.EnableDist && len(c.DistSvrAddrs) == 0 {
		errs = append(errs, errors.New("enable_dist requires dist_svr_addrs"))
	}
	if c.EnableDist && c.NumEvalThreads == 0 {
		errs = append(errs, errors.New("enable_dist requires num_eval_threads > 0"))
	}
	if c.DistConfig.EnableLeakyBucket && (c.DistConfig.LeakyBucketSize <= 0 || c.DistConfig.LeakyBucketRefillPeriodMs <= 0) {
		errs = append(errs, errors.New("leaky bucket needs positive size and refill period"))
	}
	if c.EarlyStop.Enable && c.EarlyStop.CheckEveryMs <= 0 {
		errs = append(errs, errors.New("early_stop.check_every_ms must be positive"))
	}
	if c.ResignMode < 0 || c.ResignMode > 3 {
		errs = append(errs, fmt.Errorf("resign_mode %d out of range [0,3]", c.ResignMode))
	}
	if c.GetBestMoveMode < 0 || c.GetBestMoveMode > 4 {
		errs = append(errs, fmt.Errorf("get_best_move_mode %d out of range [0,4]", c.GetBestMoveMode))
	}
	if c.EnablePolicyTemperature && c.PolicyTemperature <= 0 {
		errs = append(errs, errors.New("policy_temperature must be positive"))
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy.
func (c Config) Clone() *Config {
	out := c
	out.DistSvrAddrs = append([]string(nil), c.DistSvrAddrs...)
	return &out
}

func (c Config) EvalWaitBatchTimeout() time.Duration {
	return time.Duration(c.EvalWaitBatchTimeoutUs) * time.Microsecond
}

func (c Config) MonitorLogEvery() time.Duration {
	return time.Duration(c.MonitorLogEveryMs) * time.Millisecond
}
