package inference

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/gozero/executor/config"
	"github.com/brensch/gozero/game"
)

// OnnxBackend evaluates positions locally with ONNX Runtime. The network
// takes [N, 19, 19, 17] float32 features and returns a [N, 362] policy and a
// [N, 1] value.
type OnnxBackend struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	globalStep int64
	log        zerolog.Logger
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxBackend(log zerolog.Logger) *OnnxBackend {
	return &OnnxBackend{log: log.With().Str("component", "onnx").Logger()}
}

func (b *OnnxBackend) Init(_ context.Context, cfg config.ModelConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return Errorf(CodeCreateSession, "init onnxruntime: %v", ortInitErr)
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return Errorf(CodeReadCheckpoint, "model %s: %v", cfg.ModelPath, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return Errorf(CodeCreateSession, "session options: %v", err)
	}
	defer options.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return Errorf(CodeCreateSession, "intra op threads: %v", err)
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return Errorf(CodeCreateSession, "inter op threads: %v", err)
		}
	}
	if cfg.UseCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return Errorf(CodeDeviceAlloc, "cuda options: %v", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(cfg.CUDADevice)}); err != nil {
			return Errorf(CodeDeviceAlloc, "cuda device %d: %v", cfg.CUDADevice, err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return Errorf(CodeDeviceAlloc, "append cuda provider: %v", err)
		}
		b.log.Info().Int("device", cfg.CUDADevice).Msg("cuda provider enabled")
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return Errorf(CodeCreateGraph, "create session: %v", err)
	}

	var step int64
	if meta, err := ort.GetModelMetadata(cfg.ModelPath); err == nil {
		if v, err := meta.GetVersion(); err == nil {
			step = v
		}
		meta.Destroy()
	}

	if b.session != nil {
		b.session.Destroy()
	}
	b.session = session
	b.globalStep = step
	b.log.Info().Str("model", cfg.ModelPath).Int64("global_step", step).Msg("model loaded")
	return nil
}

// GlobalStep reports the model version recorded in the ONNX metadata.
func (b *OnnxBackend) GlobalStep(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return 0, ErrNotInitialized
	}
	return b.globalStep, nil
}

func (b *OnnxBackend) Forward(_ context.Context, inputs [][]bool) ([][]float32, []float32, error) {
	if err := checkInputs(inputs); err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, nil, ErrNotInitialized
	}

	n := int64(len(inputs))
	batch := make([]float32, 0, len(inputs)*InputDim)
	for _, features := range inputs {
		for _, f := range features {
			if f {
				batch = append(batch, 1)
			} else {
				batch = append(batch, 0)
			}
		}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(n, game.BoardSize, game.BoardSize, game.FeaturePlanes), batch)
	if err != nil {
		return nil, nil, Errorf(CodeSessionRun, "input tensor: %v", err)
	}
	defer inputTensor.Destroy()
	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, OutputDim))
	if err != nil {
		return nil, nil, Errorf(CodeSessionRun, "policy tensor: %v", err)
	}
	defer policyTensor.Destroy()
	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 1))
	if err != nil {
		return nil, nil, Errorf(CodeSessionRun, "value tensor: %v", err)
	}
	defer valueTensor.Destroy()

	if err := b.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		return nil, nil, Errorf(CodeSessionRun, "run: %v", err)
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()
	policy := make([][]float32, len(inputs))
	value := make([]float32, len(inputs))
	for i := range inputs {
		policy[i] = make([]float32, OutputDim)
		copy(policy[i], policyData[i*OutputDim:(i+1)*OutputDim])
		value[i] = valueData[i]
	}
	return policy, value, nil
}

func (b *OnnxBackend) Wait(context.Context) {}

func (b *OnnxBackend) RPCQueueSize() int { return 0 }

func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}

// ensureLinuxLibraryPath prepends the working directory and the CUDA and
// onnxruntime libraries of a project-local .venv to LD_LIBRARY_PATH.
func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	dirs := []string{cwd}
	for _, pat := range []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"),
	} {
		matches, _ := filepath.Glob(pat)
		dirs = append(dirs, matches...)
	}

	current := strings.Split(os.Getenv("LD_LIBRARY_PATH"), ":")
	missing := lo.Filter(dirs, func(d string, _ int) bool {
		if lo.Contains(current, d) {
			return false
		}
		st, err := os.Stat(d)
		return err == nil && st.IsDir()
	})
	if len(missing) == 0 {
		return
	}
	paths := append(missing, lo.Compact(current)...)
	_ = os.Setenv("LD_LIBRARY_PATH", strings.Join(paths, ":"))
}

func checkInputs(inputs [][]bool) error {
	for i, f := range inputs {
		if len(f) != InputDim {
			return Errorf(CodeInvalidInput, "input %d has %d features, need %d", i, len(f), InputDim)
		}
	}
	return nil
}

var _ Backend = (*OnnxBackend)(nil)
