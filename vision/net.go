// Package vision backs the detector and feature oracles with OpenCV.
package vision

import (
	"fmt"
	"log"

	"gocv.io/x/gocv"
)

// loadNet reads an ONNX model and prefers CUDA, falling back to the CPU.
// The returned flag reports whether CUDA was selected.
func loadNet(modelPath string) (gocv.Net, bool, error) {
	if modelPath == "" {
		return gocv.Net{}, false, fmt.Errorf("model path is empty")
	}
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return gocv.Net{}, false, fmt.Errorf("failed to load network model %s", modelPath)
	}
	log.Printf("vision: loaded model %s", modelPath)

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Println("vision: set backend/target to CUDA")
		return net, true, nil
	}
	if cudaBackendErr != nil {
		log.Printf("vision: CUDA backend not available: %v. Using default backend.", cudaBackendErr)
	}
	if cudaTargetErr != nil {
		log.Printf("vision: CUDA target not available: %v. Using default target.", cudaTargetErr)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	log.Println("vision: set backend/target to CPU")
	return net, false, nil
}
