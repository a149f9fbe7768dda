//go:build onnx

package main

import (
	"github.com/piskevalee-cpu/MARK/config"
	"github.com/piskevalee-cpu/MARK/memory"
	"github.com/piskevalee-cpu/MARK/memory/embedder/onnx"
)

func openONNXEmbedder(cfg *config.Config) (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:     cfg.Memory.OnnxModel,
		TokenizerPath: cfg.Memory.OnnxTokenizer,
		Dimensions:    cfg.Memory.Dimensions,
	})
}
