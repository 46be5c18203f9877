package layers

import (
	"fmt"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	Conv2D
	ReLU
	GlobalAvgPool
	Residual
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case GlobalAvgPool:
		return "GlobalAvgPool"
	case Residual:
		return "Residual"
	default:
		return "Unknown"
	}
}

// LayerSpec defines layer configuration. It carries no execution state;
// ModelSpec.Instantiate turns a compiled spec into trainable modules.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Body holds the wrapped layers of a Residual block
	Body []LayerSpec `json:"body,omitempty"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Name   string      `json:"name"`
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder assembles a ModelSpec layer by layer
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder creates a new model builder for inputs of shape [batch, channels, height, width]
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense adds a dense layer to the model
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	// Input size will be computed during compilation
	layer := LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	}
	return mb.AddLayer(layer)
}

// AddConv2D adds a Conv2D layer to the model
func (mb *ModelBuilder) AddConv2D(
	outputChannels, kernelSize, stride, padding int,
	useBias bool, name string,
) *ModelBuilder {
	layer := LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"output_channels": outputChannels,
			"kernel_size":     kernelSize,
			"stride":          stride,
			"padding":         padding,
			"use_bias":        useBias,
		},
	}
	return mb.AddLayer(layer)
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       ReLU,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddGlobalAvgPool averages every channel over its spatial extent, [N,C,H,W] -> [N,C]
func (mb *ModelBuilder) AddGlobalAvgPool(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       GlobalAvgPool,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddResidual adds a block computing x + body(x). The body must preserve the input shape.
func (mb *ModelBuilder) AddResidual(name string, body func(b *ModelBuilder)) *ModelBuilder {
	inner := &ModelBuilder{}
	body(inner)
	layer := LayerSpec{
		Type:       Residual,
		Name:       name,
		Parameters: map[string]interface{}{},
		Body:       inner.layers,
	}
	return mb.AddLayer(layer)
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) != 4 {
		return nil, fmt.Errorf("input shape must be [batch, channels, height, width], got %v", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     cloneSpecs(mb.layers),
		InputShape: append([]int(nil), mb.inputShape...),
		Compiled:   false,
	}

	outputShape, paramShapes, totalParams, err := mb.computeSequenceInfo(model.Layers, model.InputShape)
	if err != nil {
		return nil, err
	}

	model.OutputShape = outputShape
	model.ParameterShapes = paramShapes
	model.TotalParameters = totalParams
	model.Compiled = true

	return model, nil
}

// computeSequenceInfo fills in the shapes of consecutive layers starting from inputShape
func (mb *ModelBuilder) computeSequenceInfo(layers []LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	currentShape := inputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range layers {
		layer := &layers[i]

		layer.InputShape = append([]int(nil), currentShape...)

		outputShape, paramShapes, paramCount, err := mb.computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to compute layer %d (%s) info: %w", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount

		currentShape = outputShape
	}

	return currentShape, allParameterShapes, totalParams, nil
}

// computeLayerInfo computes output shape and parameter information for a layer
func (mb *ModelBuilder) computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return mb.computeDenseInfo(layer, inputShape)
	case Conv2D:
		return mb.computeConv2DInfo(layer, inputShape)
	case GlobalAvgPool:
		return mb.computePoolInfo(layer, inputShape)
	case Residual:
		return mb.computeResidualInfo(layer, inputShape)
	case ReLU:
		return mb.computeActivationInfo(layer, inputShape)
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

// computeDenseInfo computes dense layer information
func (mb *ModelBuilder) computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("dense layer requires at least 2D input")
	}

	outputSize, ok := layer.Parameters["output_size"].(int)
	if !ok || outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid output_size parameter")
	}
	useBias := getBoolParam(layer.Parameters, "use_bias", true)

	// 4D input is flattened: input_size = channels * height * width
	inputSize := 1
	for i := 1; i < len(inputShape); i++ {
		inputSize *= inputShape[i]
	}
	layer.Parameters["input_size"] = inputSize

	outputShape := []int{inputShape[0], outputSize}

	// Weight matrix is stored [outputSize, inputSize]
	paramShapes := [][]int{{outputSize, inputSize}}
	paramCount := int64(inputSize * outputSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}

	return outputShape, paramShapes, paramCount, nil
}

// computeConv2DInfo computes Conv2D layer information
func (mb *ModelBuilder) computeConv2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("Conv2D layer requires 4D input [batch, channels, height, width]")
	}

	outputChannels, ok := layer.Parameters["output_channels"].(int)
	if !ok || outputChannels <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid output_channels parameter")
	}
	kernelSize, ok := layer.Parameters["kernel_size"].(int)
	if !ok || kernelSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid kernel_size parameter")
	}
	stride := getIntParam(layer.Parameters, "stride", 1)
	padding := getIntParam(layer.Parameters, "padding", 0)
	if stride <= 0 || padding < 0 {
		return nil, nil, 0, fmt.Errorf("invalid stride %d or padding %d", stride, padding)
	}
	useBias := getBoolParam(layer.Parameters, "use_bias", true)

	batchSize := inputShape[0]
	inputChannels := inputShape[1]
	layer.Parameters["input_channels"] = inputChannels

	outputHeight := (inputShape[2]+2*padding-kernelSize)/stride + 1
	outputWidth := (inputShape[3]+2*padding-kernelSize)/stride + 1
	if outputHeight <= 0 || outputWidth <= 0 {
		return nil, nil, 0, fmt.Errorf("kernel %d does not fit input %dx%d", kernelSize, inputShape[2], inputShape[3])
	}

	outputShape := []int{batchSize, outputChannels, outputHeight, outputWidth}

	paramShapes := [][]int{{outputChannels, inputChannels, kernelSize, kernelSize}}
	paramCount := int64(outputChannels * inputChannels * kernelSize * kernelSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outputChannels})
		paramCount += int64(outputChannels)
	}

	return outputShape, paramShapes, paramCount, nil
}

func (mb *ModelBuilder) computePoolInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("global average pooling requires 4D input")
	}
	return []int{inputShape[0], inputShape[1]}, [][]int{}, 0, nil
}

func (mb *ModelBuilder) computeResidualInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(layer.Body) == 0 {
		return nil, nil, 0, fmt.Errorf("residual block has an empty body")
	}

	bodyShape, paramShapes, paramCount, err := mb.computeSequenceInfo(layer.Body, inputShape)
	if err != nil {
		return nil, nil, 0, err
	}
	if !equalShapes(bodyShape, inputShape) {
		return nil, nil, 0, fmt.Errorf("residual body maps %v to %v, shapes must match", inputShape, bodyShape)
	}

	return append([]int(nil), inputShape...), paramShapes, paramCount, nil
}

func (mb *ModelBuilder) computeActivationInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	// Activation layers don't change shape and have no parameters
	outputShape := make([]int, len(inputShape))
	copy(outputShape, inputShape)

	return outputShape, [][]int{}, 0, nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	summary := fmt.Sprintf("Model Summary: %s\n", ms.Name)
	summary += fmt.Sprintf("Input Shape: %v\n", ms.InputShape)
	summary += fmt.Sprintf("Output Shape: %v\n", ms.OutputShape)
	summary += fmt.Sprintf("Total Parameters: %d\n", ms.TotalParameters)
	summary += fmt.Sprintf("Layers: %d\n\n", len(ms.Layers))

	summary += summarizeLayers(ms.Layers, "")

	return summary
}

func summarizeLayers(layers []LayerSpec, indent string) string {
	summary := ""
	for i, layer := range layers {
		summary += fmt.Sprintf("%sLayer %d: %s (%s)\n", indent, i+1, layer.Name, layer.Type.String())
		summary += fmt.Sprintf("%s  Input:  %v\n", indent, layer.InputShape)
		summary += fmt.Sprintf("%s  Output: %v\n", indent, layer.OutputShape)
		summary += fmt.Sprintf("%s  Params: %d\n", indent, layer.ParameterCount)
		if len(layer.Body) > 0 {
			summary += summarizeLayers(layer.Body, indent+"    ")
		}
	}
	return summary
}

func cloneSpecs(specs []LayerSpec) []LayerSpec {
	out := make([]LayerSpec, len(specs))
	for i, s := range specs {
		out[i] = s
		out[i].Parameters = make(map[string]interface{}, len(s.Parameters))
		for k, v := range s.Parameters {
			out[i].Parameters[k] = v
		}
		if len(s.Body) > 0 {
			out[i].Body = cloneSpecs(s.Body)
		}
	}
	return out
}

func equalShapes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Helper functions for parameter extraction
func getIntParam(params map[string]interface{}, key string, defaultValue int) int {
	if val, exists := params[key]; exists {
		if intVal, ok := val.(int); ok {
			return intVal
		}
	}
	return defaultValue
}

func getBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, exists := params[key]; exists {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return defaultValue
}
