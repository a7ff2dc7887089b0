// Package json 把原始样本以 NDJSON 流写入文件，格式兼容 k6 的 --out json
package json

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/output"
)

const flushInterval = 200 * time.Millisecond

func init() {
	output.Register("json", New)
}

// Output JSON 文件输出
type Output struct {
	output.SampleBuffer

	params  output.Params
	mu      sync.Mutex
	closer  io.Closer
	writer  *bufio.Writer
	encoder *json.Encoder
	flusher *output.PeriodicFlusher
	seen    map[string]bool

	runStatus output.RunStatus
}

type point struct {
	Type   string      `json:"type"`
	Metric string      `json:"metric"`
	Data   interface{} `json:"data"`
}

type pointData struct {
	Time  time.Time         `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
	RunID string            `json:"run_id,omitempty"`
}

type metricData struct {
	Name string `json:"name"`
}

// New 创建 JSON 输出，ConfigArgument 为文件路径，"-" 表示标准输出
func New(params output.Params) (output.Output, error) {
	return &Output{params: params, seen: make(map[string]bool)}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("json (%s)", o.params.ConfigArgument)
}

// Start 打开文件并启动周期写入
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	filename := o.params.ConfigArgument
	switch filename {
	case "-":
		o.writer = bufio.NewWriter(os.Stdout)
	default:
		if filename == "" {
			filename = fmt.Sprintf("samples_%s.json", time.Now().Format("20060102_150405"))
			o.params.ConfigArgument = filename
		}
		file, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("create json output file: %w", err)
		}
		o.closer = file
		o.writer = bufio.NewWriter(file)
	}
	o.encoder = json.NewEncoder(o.writer)

	pf, err := output.NewPeriodicFlusher(flushInterval, o.flush)
	if err != nil {
		return err
	}
	o.flusher = pf
	return nil
}

// Stop 写出剩余样本并关闭文件
func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writer == nil {
		return nil
	}
	err := o.writer.Flush()
	if o.closer != nil {
		if cerr := o.closer.Close(); err == nil {
			err = cerr
		}
	}
	o.writer = nil
	return err
}

func (o *Output) flush() {
	containers := o.GetBufferedSamples()
	if len(containers) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.encoder == nil {
		return
	}

	for _, container := range containers {
		for _, s := range container.GetSamples() {
			if !o.seen[s.Metric] {
				o.seen[s.Metric] = true
				o.encode(point{Type: "Metric", Metric: s.Metric, Data: metricData{Name: s.Metric}})
			}
			o.encode(point{
				Type:   "Point",
				Metric: s.Metric,
				Data:   pointData{Time: s.Time, Value: s.Value, Tags: s.Tags, RunID: o.params.RunID},
			})
		}
	}
}

func (o *Output) encode(p point) {
	if err := o.encoder.Encode(p); err != nil {
		logger.Error("write json sample", "file", o.params.ConfigArgument, "error", err)
	}
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

var _ output.Output = (*Output)(nil)

// MetricNames 返回已写入过的指标名
func (o *Output) MetricNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.seen))
	for name := range o.seen {
		names = append(names, name)
	}
	return names
}
