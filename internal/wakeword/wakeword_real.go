package wakeword

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ortSession adapts an onnxruntime_go advanced session, with its
// pre-allocated input/output tensors, to the modelRunner interface.
type ortSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *ortSession) Run(input []float32) ([]float32, error) {
	copy(s.input.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("wakeword: session run: %w", err)
	}
	return s.output.GetData(), nil
}

func (s *ortSession) Destroy() {
	s.input.Destroy()
	s.output.Destroy()
	s.session.Destroy()
}

func newORTSession(modelPath string, inputShape, outputShape ort.Shape) (*ortSession, error) {
	in, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, err
	}
	out, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		in.Destroy()
		return nil, err
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil,
	)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, err
	}

	return &ortSession{session: session, input: in, output: out}, nil
}

// InitRuntime points onnxruntime_go at the shared library and initializes
// the process-wide ONNX environment. Call once at startup; DestroyRuntime
// on shutdown.
func InitRuntime(sharedLibPath string) error {
	ort.SetSharedLibraryPath(sharedLibPath)
	return ort.InitializeEnvironment()
}

// DestroyRuntime tears down the process-wide ONNX environment.
func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

// ModelPaths locates the three cascade stage models plus one model per
// configured keyword.
type ModelPaths struct {
	Melspectrogram string
	Embedding      string
	Keywords       map[string]string // keyword name -> model path
}

// NewFromFiles builds a Detector backed by real ONNX sessions loaded from
// paths, and returns a cleanup func that destroys every session.
func NewFromFiles(cfg Config, paths ModelPaths) (*Detector, func(), error) {
	melspec, err := newORTSession(paths.Melspectrogram,
		ort.NewShape(1, chunkSamples), ort.NewShape(1, 1, nMelFrames, melBins))
	if err != nil {
		return nil, nil, fmt.Errorf("wakeword: load melspectrogram model: %w", err)
	}

	embed, err := newORTSession(paths.Embedding,
		ort.NewShape(1, melWindow, melBins, 1), ort.NewShape(1, 1, 1, embeddingDim))
	if err != nil {
		melspec.Destroy()
		return nil, nil, fmt.Errorf("wakeword: load embedding model: %w", err)
	}

	sessions := []*ortSession{melspec, embed}
	var keywords []*Keyword
	for name, path := range paths.Keywords {
		ws, err := newORTSession(path, ort.NewShape(1, nEmbedFrames, embeddingDim), ort.NewShape(1, 1))
		if err != nil {
			for _, s := range sessions {
				s.Destroy()
			}
			return nil, nil, fmt.Errorf("wakeword: load keyword model %q: %w", name, err)
		}
		sessions = append(sessions, ws)
		keywords = append(keywords, &Keyword{Name: name, Model: ws})
	}

	cleanup := func() {
		for _, s := range sessions {
			s.Destroy()
		}
	}
	return New(cfg, melspec, embed, keywords), cleanup, nil
}
