package training

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/petsbench/layers"
)

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	clock := newTickClock(time.Second)
	pb := newProgressBar(&out, "Epoch 1/1", 4, clock.Now)

	pb.Update(2, map[string]float64{"loss": 1.5, "acc": 0.25})
	line := out.String()
	if !strings.HasPrefix(line, "\rEpoch 1/1:  50%|") {
		t.Errorf("Unexpected progress line: %q", line)
	}
	if !strings.Contains(line, " 2/4 [") {
		t.Errorf("Expected step counter in %q", line)
	}
	if !strings.Contains(line, "acc=0.250, loss=1.500]") {
		t.Errorf("Expected sorted metrics in %q", line)
	}

	pb.Finish()
	if !strings.HasSuffix(out.String(), "]\n") {
		t.Errorf("Expected Finish to end the line, got %q", out.String())
	}
	if !strings.Contains(out.String(), "100%") {
		t.Error("Expected Finish to render 100%")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{61 * time.Second, "01:01"},
		{25 * time.Minute, "25:00"},
	}
	for _, test := range tests {
		if got := formatDuration(test.d); got != test.expected {
			t.Errorf("formatDuration(%s) = %s, expected %s", test.d, got, test.expected)
		}
	}
}

func TestFormatParameterCount(t *testing.T) {
	tests := []struct {
		count    int64
		expected string
	}{
		{999, "999"},
		{1500, "1.5K"},
		{2500000, "2.5M"},
	}
	for _, test := range tests {
		if got := formatParameterCount(test.count); got != test.expected {
			t.Errorf("formatParameterCount(%d) = %s, expected %s", test.count, got, test.expected)
		}
	}
}

func TestPrintArchitecture(t *testing.T) {
	spec, err := layers.Factory{ImageSize: 16}.Spec(37, "resnet_tiny")
	if err != nil {
		t.Fatalf("Failed to build spec: %v", err)
	}

	var out bytes.Buffer
	PrintArchitecture(&out, spec)
	text := out.String()

	for _, want := range []string{
		"resnet_tiny(",
		"(stem): Conv2d(3, 16, kernel_size=(3, 3), stride=(2, 2), padding=(1, 1), bias=true)",
		"(block1): Residual(",
		"    (block1_conv1): Conv2d(16, 16",
		"(pool): AdaptiveAvgPool2d(output_size=1)",
		"(fc): Linear(in_features=32, out_features=37, bias=true)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected architecture listing to contain %q, got:\n%s", want, text)
		}
	}
}
