package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/petsbench/layers"
)

// ProgressBar renders tqdm-style epoch progress to a writer
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
	now         func() time.Time
}

// NewProgressBar creates a new progress bar
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return newProgressBar(out, description, total, time.Now)
}

func newProgressBar(out io.Writer, description string, total int, now func() time.Time) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   now(),
		width:       40,
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
		now:         now,
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := pb.now().Sub(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 && elapsed > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description, percentage*100, bar, pb.current, pb.total)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.3f", k, pb.metrics[k])
	}

	line += "]"
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// PrintArchitecture writes a PyTorch-style listing of a compiled model
func PrintArchitecture(out io.Writer, spec *layers.ModelSpec) {
	fmt.Fprintf(out, "Model Architecture:\n")
	fmt.Fprintf(out, "%s(\n", spec.Name)
	printLayers(out, spec.Layers, "  ")
	fmt.Fprintf(out, ")\n\n")

	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(spec.TotalParameters))
	fmt.Fprintf(out, "Input size (MB): %.3f\n", shapeSizeMB(spec.InputShape))
	fmt.Fprintf(out, "Params size (MB): %.3f\n\n", float64(spec.TotalParameters*4)/1024/1024)
}

func printLayers(out io.Writer, specs []layers.LayerSpec, indent string) {
	for _, l := range specs {
		if l.Type == layers.Residual {
			fmt.Fprintf(out, "%s(%s): Residual(\n", indent, l.Name)
			printLayers(out, l.Body, indent+"  ")
			fmt.Fprintf(out, "%s)\n", indent)
			continue
		}
		fmt.Fprintf(out, "%s%s\n", indent, formatLayer(l))
	}
}

func formatLayer(l layers.LayerSpec) string {
	switch l.Type {
	case layers.Conv2D:
		k := l.Parameters["kernel_size"].(int)
		s := l.Parameters["stride"].(int)
		p := l.Parameters["padding"].(int)
		return fmt.Sprintf("(%s): Conv2d(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d), bias=%t)",
			l.Name, l.Parameters["input_channels"].(int), l.Parameters["output_channels"].(int),
			k, k, s, s, p, p, l.Parameters["use_bias"].(bool))
	case layers.Dense:
		return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
			l.Name, l.Parameters["input_size"].(int), l.Parameters["output_size"].(int), l.Parameters["use_bias"].(bool))
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", l.Name)
	case layers.GlobalAvgPool:
		return fmt.Sprintf("(%s): AdaptiveAvgPool2d(output_size=1)", l.Name)
	default:
		return fmt.Sprintf("(%s): %s()", l.Name, l.Type.String())
	}
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

func shapeSizeMB(shape []int) float64 {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return float64(size*4) / 1024 / 1024
}
