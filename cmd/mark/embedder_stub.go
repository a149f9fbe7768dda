//go:build !onnx

package main

import (
	"fmt"

	"github.com/piskevalee-cpu/MARK/config"
	"github.com/piskevalee-cpu/MARK/memory"
)

func openONNXEmbedder(_ *config.Config) (memory.Embedder, error) {
	return nil, fmt.Errorf("built without ONNX support; rebuild with -tags onnx")
}
